// Package audit writes the audit trail of token and consent decisions.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Actions recorded by the authorization server.
const (
	ActionTokenIssue  = "token.issue"
	ActionTokenRevoke = "token.revoke"
	ActionConsent     = "authorization.consent"
)

// Event represents an audit log event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	ClientID  string    `json:"client_id,omitempty"`
	User      string    `json:"user,omitempty"`
	GrantType string    `json:"grant_type,omitempty"`
	Scopes    []string  `json:"scopes,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"` // OAuth2 error code when the action failed
}

// Logger appends audit events as single JSON lines. A nil Logger discards
// everything.
type Logger struct {
	out zerolog.Logger
	now func() time.Time
}

// NewLogger creates an audit logger writing to w.
func NewLogger(w io.Writer) *Logger {
	return &Logger{
		out: zerolog.New(w),
		now: time.Now,
	}
}

// Record writes ev, stamping it when Timestamp is unset.
func (l *Logger) Record(ctx context.Context, ev Event) {
	if l == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now().UTC()
	}

	entry, err := json.Marshal(ev)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("action", ev.Action).Msg("Failed to marshal audit event")
		return
	}

	l.out.Log().RawJSON("audit_event", entry).Send()
}
