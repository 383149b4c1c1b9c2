package intakelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Intakeline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no token is set; the server must allow it.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Question represents a template question.
type Question struct {
	ID       string   `json:"id,omitempty"`
	Prompt   string   `json:"prompt"`
	Kind     string   `json:"kind"`
	Category string   `json:"category"`
	Section  string   `json:"section,omitempty"`
	Required bool     `json:"required,omitempty"`
	Order    int      `json:"order,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// Template represents the API template model (partial).
type Template struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Questions      []Question `json:"questions"`
	IsDefault      bool       `json:"is_default"`
	Active         bool       `json:"active"`
	UsageCount     int        `json:"usage_count"`
	OrganizationID string     `json:"organization_id,omitempty"`
}

// Session represents the API session model (partial). Responses keep the server's typed answer
// objects undecoded.
type Session struct {
	ID              string                     `json:"id"`
	TemplateID      string                     `json:"template_id"`
	ClientID        string                     `json:"client_id"`
	Status          string                     `json:"status"`
	ScheduledAt     *string                    `json:"scheduled_at,omitempty"`
	DurationMinutes int                        `json:"duration_minutes"`
	Attendees       []string                   `json:"attendees"`
	Responses       map[string]json.RawMessage `json:"responses"`
	Questions       []Question                 `json:"questions"`
}

// InvitationResult is the outcome for one recipient.
type InvitationResult struct {
	Email        string `json:"email"`
	Status       string `json:"status"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Error        string `json:"error,omitempty"`
	InvitationID string `json:"invitation_id,omitempty"`
	RecordError  string `json:"record_error,omitempty"`
}

type InvitationsResponse struct {
	Results              []InvitationResult `json:"results"`
	NeedsReauthorization bool               `json:"needs_reauthorization"`
}

// Event represents a log entry.
type Event struct {
	ID         string         `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Message come from the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTemplate creates a template.
func (c *Client) CreateTemplate(ctx context.Context, name, orgID string, questions []Question, isDefault bool) (Template, error) {
	body := map[string]any{
		"name":            name,
		"organization_id": orgID,
		"questions":       questions,
		"is_default":      isDefault,
	}
	var resp Template
	err := c.do(ctx, http.MethodPost, "templates", body, &resp)
	return resp, err
}

// GetTemplate fetches a template by id.
func (c *Client) GetTemplate(ctx context.Context, id string) (Template, error) {
	var resp Template
	err := c.do(ctx, http.MethodGet, "templates/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// DefaultTemplate resolves the default template of an organization.
func (c *Client) DefaultTemplate(ctx context.Context, orgID string) (Template, error) {
	var resp Template
	err := c.do(ctx, http.MethodGet, "templates/default?organization_id="+url.QueryEscape(orgID), nil, &resp)
	return resp, err
}

// CreateSession starts a session. An empty templateID uses the client's default template.
func (c *Client) CreateSession(ctx context.Context, templateID, clientID string, attendees []string) (Session, error) {
	body := map[string]any{"client_id": clientID}
	if templateID != "" {
		body["template_id"] = templateID
	}
	if len(attendees) > 0 {
		body["attendees"] = attendees
	}
	var resp Session
	err := c.do(ctx, http.MethodPost, "sessions", body, &resp)
	return resp, err
}

// GetSession fetches a session by id.
func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, "sessions/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Answer records the answer to one question.
func (c *Client) Answer(ctx context.Context, sessionID, questionID string, value any) (Session, error) {
	var resp Session
	endpoint := fmt.Sprintf("sessions/%s/responses/%s", url.PathEscape(sessionID), url.PathEscape(questionID))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"value": value}, &resp)
	return resp, err
}

// CompleteSession completes a session. Missing required answers yield an APIError with code
// incomplete_session.
func (c *Client) CompleteSession(ctx context.Context, id string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("sessions/%s/complete", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// Schedule sets the meeting time.
func (c *Client) Schedule(ctx context.Context, id string, at time.Time, durationMinutes int) (Session, error) {
	body := map[string]any{
		"scheduled_at":     at.UTC().Format(time.RFC3339),
		"duration_minutes": durationMinutes,
	}
	var resp Session
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("sessions/%s/schedule", url.PathEscape(id)), body, &resp)
	return resp, err
}

// SendInvitations invites emails, or every attendee when emails is empty.
func (c *Client) SendInvitations(ctx context.Context, sessionID string, emails []string, meetingLink string) (InvitationsResponse, error) {
	body := map[string]any{"meeting_link": meetingLink}
	if len(emails) > 0 {
		body["emails"] = emails
	}
	var resp InvitationsResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("sessions/%s/invitations", url.PathEscape(sessionID)), body, &resp)
	return resp, err
}

// ListEvents lists events, newest first. Pass the previous NextCursor to page.
func (c *Client) ListEvents(ctx context.Context, entityKind, entityID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if entityKind != "" {
		q.Set("entity_kind", entityKind)
	}
	if entityID != "" {
		q.Set("entity_id", entityID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
