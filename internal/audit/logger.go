package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Entry represents a structured audit event.
type Entry struct {
	UserID     string
	ClientID   string
	Action     string
	Resource   string
	ResourceID string
	IPAddress  string
	UserAgent  string
	Context    map[string]any
	OccurredAt time.Time
}

// Logger emits audit entries as structured log events.
type Logger struct {
	logger *zap.Logger
}

// New constructs a Logger.
func New(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.Named("audit")}
}

// Record emits an audit entry. Auditing is best effort and never interrupts
// the calling flow.
func (l *Logger) Record(_ context.Context, entry Entry) {
	if l == nil || entry.Action == "" {
		return
	}
	fields := []zap.Field{
		zap.String("action", entry.Action),
		zap.String("resource", entry.Resource),
		zap.String("resource_id", entry.ResourceID),
		zap.Time("occurred_at", timeOrDefault(entry.OccurredAt)),
	}
	if entry.UserID != "" {
		fields = append(fields, zap.String("user_id", entry.UserID))
	}
	if entry.ClientID != "" {
		fields = append(fields, zap.String("client_id", entry.ClientID))
	}
	if entry.IPAddress != "" {
		fields = append(fields, zap.String("ip_address", entry.IPAddress))
	}
	if entry.UserAgent != "" {
		fields = append(fields, zap.String("user_agent", entry.UserAgent))
	}
	if entry.Context != nil {
		fields = append(fields, zap.Any("context", entry.Context))
	}
	l.logger.Info("audit", fields...)
}

func timeOrDefault(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
