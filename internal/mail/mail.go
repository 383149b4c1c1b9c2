// Package mail delivers intake meeting invitations through an OAuth2 protected HTTP send API.
package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"intakeline/internal/config"
	"intakeline/internal/engine"
)

// Mailer implements engine.Mailer. Client must attach credentials; New builds one that refreshes
// an access token from the configured refresh token.
type Mailer struct {
	SendURL string
	Sender  string
	Client  *http.Client
	Now     func() time.Time
}

func New(ctx context.Context, cfg config.Mail) (*Mailer, error) {
	if strings.TrimSpace(cfg.SendURL) == "" {
		return nil, errors.New("mail.send_url is not configured")
	}
	refresh := strings.TrimSpace(os.Getenv(cfg.RefreshTokenEnv))
	if refresh == "" {
		return nil, fmt.Errorf("mail refresh token missing: set %s", cfg.RefreshTokenEnv)
	}
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: strings.TrimSpace(os.Getenv(cfg.ClientSecretEnv)),
		Endpoint:     oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL},
	}
	client := oc.Client(ctx, &oauth2.Token{RefreshToken: refresh})
	if cfg.TimeoutSeconds > 0 {
		client.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Mailer{SendURL: cfg.SendURL, Sender: cfg.Sender, Client: client, Now: time.Now}, nil
}

type sendRequest struct {
	Raw string `json:"raw"`
}

type sendResponse struct {
	ID string `json:"id"`
}

func (m *Mailer) SendInvite(ctx context.Context, to string, meta engine.SessionMeta, meetingLink string) (engine.DeliveryResult, error) {
	msg, err := m.message(to, meta, meetingLink)
	if err != nil {
		return engine.DeliveryResult{}, &engine.DeliveryError{Message: err.Error()}
	}
	body, err := json.Marshal(sendRequest{Raw: base64.RawURLEncoding.EncodeToString(msg)})
	if err != nil {
		return engine.DeliveryResult{}, &engine.DeliveryError{Message: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.SendURL, bytes.NewReader(body))
	if err != nil {
		return engine.DeliveryResult{}, &engine.DeliveryError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.Client.Do(req)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return engine.DeliveryResult{}, &engine.AuthScopeError{Message: "mail authorization expired or revoked; re-authorize the mail account: " + re.Error()}
		}
		return engine.DeliveryResult{}, &engine.DeliveryError{Message: err.Error(), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		text := strings.TrimSpace(string(b))
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return engine.DeliveryResult{}, &engine.AuthScopeError{Message: fmt.Sprintf("mail provider refused with %d; re-authorize with send permission: %s", resp.StatusCode, text)}
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return engine.DeliveryResult{}, &engine.DeliveryError{Message: fmt.Sprintf("mail provider returned %d: %s", resp.StatusCode, text), Retryable: true}
		default:
			return engine.DeliveryResult{}, &engine.DeliveryError{Message: fmt.Sprintf("mail provider returned %d: %s", resp.StatusCode, text)}
		}
	}
	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		return engine.DeliveryResult{}, &engine.DeliveryError{Message: "decode send response: " + err.Error()}
	}
	return engine.DeliveryResult{MessageID: out.ID}, nil
}

func (m *Mailer) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// message renders an RFC 5322 message with a plain text part and a text/calendar invite.
func (m *Mailer) message(to string, meta engine.SessionMeta, meetingLink string) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "From: %s\r\n", m.Sender)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", meta.Title))
	fmt.Fprintf(&buf, "Date: %s\r\n", m.now().UTC().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())

	text, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=UTF-8"}})
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(text, "You are invited to %s.\r\n\r\nWhen: %s (%d minutes)\r\n", meta.Title, meta.ScheduledAt.UTC().Format("Mon 2 Jan 2006 15:04 MST"), meta.DurationMinutes)
	if meetingLink != "" {
		fmt.Fprintf(text, "Join: %s\r\n", meetingLink)
	}

	cal, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {`text/calendar; charset=UTF-8; method=REQUEST`}})
	if err != nil {
		return nil, err
	}
	if _, err := cal.Write(ICS(meta, m.Sender, to, meetingLink, m.now())); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const icsTime = "20060102T150405Z"

// ICS renders a single-event calendar request. The UID is stable per session so a rescheduled
// invite updates the existing calendar entry.
func ICS(meta engine.SessionMeta, organizer, attendee, meetingLink string, stamp time.Time) []byte {
	start := meta.ScheduledAt.UTC()
	end := start.Add(time.Duration(meta.DurationMinutes) * time.Minute)
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//intakeline//intake meeting//EN",
		"METHOD:REQUEST",
		"BEGIN:VEVENT",
		"UID:" + meta.SessionID + "@intakeline",
		"DTSTAMP:" + stamp.UTC().Format(icsTime),
		"DTSTART:" + start.Format(icsTime),
		"DTEND:" + end.Format(icsTime),
		"SUMMARY:" + escapeICS(meta.Title),
	}
	if organizer != "" {
		lines = append(lines, "ORGANIZER:mailto:"+organizer)
	}
	lines = append(lines, "ATTENDEE;ROLE=REQ-PARTICIPANT;RSVP=TRUE:mailto:"+attendee)
	if meetingLink != "" {
		lines = append(lines, "LOCATION:"+escapeICS(meetingLink), "DESCRIPTION:"+escapeICS("Join: "+meetingLink))
	}
	lines = append(lines, "END:VEVENT", "END:VCALENDAR")
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

var icsEscaper = strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\r\n", `\n`, "\n", `\n`, "\r", `\n`)

func escapeICS(s string) string {
	return icsEscaper.Replace(s)
}
