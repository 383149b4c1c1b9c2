package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
)

// AuthConfig controls how requests are authenticated.
type AuthConfig struct {
	JWTSecret string
	// AllowActorHeader accepts X-Actor-Id without a token. Local use only.
	AllowActorHeader bool
	// DevLogin exposes POST /auth/dev/login, which mints tokens for any actor.
	DevLogin bool
	Logger   *log.Logger
}

type Principal struct {
	ActorID string
	Roles   []string
	Source  string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func actorIDFromContext(ctx context.Context) (string, huma.StatusError) {
	p, ok := principalFromContext(ctx)
	if !ok || strings.TrimSpace(p.ActorID) == "" {
		return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	return p.ActorID, nil
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

var errMissingSubject = errors.New("token subject is required")

func authenticateJWT(token, secret string) (Principal, error) {
	if secret == "" {
		return Principal{}, errors.New("jwt auth is not configured")
	}
	claims := &jwtClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}); err != nil {
		return Principal{}, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Principal{}, errMissingSubject
	}
	return Principal{ActorID: claims.Subject, Roles: claims.Roles, Source: "jwt"}, nil
}

func signDevToken(secret, actorID string, roles []string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			Issuer:    "intakeline-dev",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	open := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "openapi.json"):   true,
		path.Join(basePath, "auth/dev/login"): true,
		"/metrics":                            true,
		"/docs":                               true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open[r.URL.Path] || !strings.HasPrefix(r.URL.Path, basePath) {
				next.ServeHTTP(w, r)
				return
			}
			if token := bearerToken(r); token != "" {
				p, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					if cfg.Logger != nil {
						cfg.Logger.Printf("auth: rejected token: %v", err)
					}
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid token", nil))
					return
				}
				next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
				return
			}
			if cfg.AllowActorHeader {
				if actor := strings.TrimSpace(r.Header.Get("X-Actor-Id")); actor != "" {
					p := Principal{ActorID: actor, Source: "header"}
					next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
					return
				}
			}
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}

type devLoginRequest struct {
	ActorID    string   `json:"actor_id" minLength:"1"`
	Roles      []string `json:"roles,omitempty"`
	TTLMinutes int      `json:"ttl_minutes,omitempty" minimum:"1" maximum:"1440"`
}

type devLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

func registerDevAuth(api huma.API, cfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID:   "dev-login",
		Method:        http.MethodPost,
		Path:          "/auth/dev/login",
		Summary:       "Mint a development token",
		DefaultStatus: http.StatusOK,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body devLoginRequest `json:"body"`
	}) (*struct {
		Body devLoginResponse `json:"body"`
	}, error) {
		ttl := time.Duration(input.Body.TTLMinutes) * time.Minute
		if ttl == 0 {
			ttl = time.Hour
		}
		now := time.Now().UTC()
		token, err := signDevToken(cfg.JWTSecret, strings.TrimSpace(input.Body.ActorID), input.Body.Roles, ttl, now)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		return &struct {
			Body devLoginResponse `json:"body"`
		}{Body: devLoginResponse{Token: token, ExpiresAt: now.Add(ttl).Format(time.RFC3339)}}, nil
	})
}
