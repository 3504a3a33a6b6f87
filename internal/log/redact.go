package log

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// MaskValue is the string used to replace sensitive values.
const MaskValue = "***REDACTED***"

// secretKeys are attribute keys holding operator secrets. They are masked
// regardless of configuration.
var secretKeys = map[string]bool{
	"authorization":  true,
	"token":          true,
	"tracker_token":  true,
	"api_key":        true,
	"secret":         true,
	"private_key":    true,
	"host_key":       true,
	"nats_password":  true,
	"db_password":    true,
	"credentials":    true,
	"x-api-key":      true,
	"proxy-password": true,
}

// credentialKeys are attribute keys holding values typed by attackers.
var credentialKeys = map[string]bool{
	"password": true,
	"passwd":   true,
	"pass":     true,
}

// dsnKeys are attribute keys holding connection strings. Only the password
// component is masked so the host stays visible in logs.
var dsnKeys = map[string]bool{
	"dsn":      true,
	"db_dsn":   true,
	"nats_url": true,
	"url":      true,
}

// secretPatterns match values that look like tokens whatever their key.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*$`),
	regexp.MustCompile(`(?i)^(bearer|token|basic)\s+\S+`),
	regexp.MustCompile(`(?i)-----BEGIN.*PRIVATE KEY-----`),
}

// kvPasswordPattern matches "password=..." inside key/value DSNs.
var kvPasswordPattern = regexp.MustCompile(`(?i)(password=)(\S+)`)

// RedactHandler wraps an slog.Handler and masks sensitive attribute values
// before they reach the underlying handler.
type RedactHandler struct {
	handler     slog.Handler
	credentials bool
}

// NewRedactHandler wraps handler. When credentials is true, attacker
// passwords are masked in addition to operator secrets.
// A nil handler means slog.Default().Handler().
func NewRedactHandler(handler slog.Handler, credentials bool) *RedactHandler {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &RedactHandler{handler: handler, credentials: credentials}
}

// Enabled delegates to the underlying handler.
func (h *RedactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle masks the record's attributes and passes it on.
func (h *RedactHandler) Handle(ctx context.Context, r slog.Record) error {
	masked := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		masked.AddAttrs(h.redact(a))
		return true
	})
	return h.handler.Handle(ctx, masked)
}

// WithAttrs returns a handler with the given (masked) attributes added.
func (h *RedactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = h.redact(a)
	}
	return &RedactHandler{handler: h.handler.WithAttrs(masked), credentials: h.credentials}
}

// WithGroup returns a handler with the given group name.
func (h *RedactHandler) WithGroup(name string) slog.Handler {
	return &RedactHandler{handler: h.handler.WithGroup(name), credentials: h.credentials}
}

// redact masks a single attribute, descending into groups.
func (h *RedactHandler) redact(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		masked := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			masked[i] = h.redact(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(masked...)}
	}

	key := strings.ToLower(a.Key)
	switch {
	case secretKeys[key]:
		return slog.String(a.Key, MaskValue)
	case credentialKeys[key]:
		if h.credentials {
			return slog.String(a.Key, MaskValue)
		}
		return a
	case dsnKeys[key] && a.Value.Kind() == slog.KindString:
		return slog.String(a.Key, RedactDSN(a.Value.String()))
	}

	if a.Value.Kind() == slog.KindString && looksSecret(a.Value.String()) {
		return slog.String(a.Key, MaskValue)
	}

	return a
}

// looksSecret reports whether a value matches a token pattern.
func looksSecret(value string) bool {
	for _, p := range secretPatterns {
		if p.MatchString(value) {
			return true
		}
	}
	return false
}

// RedactDSN masks the password of a URL-style or key/value connection string.
func RedactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
			return strings.Replace(u.String(), "xxxxx", MaskValue, 1)
		}
		return dsn
	}
	return kvPasswordPattern.ReplaceAllString(dsn, "${1}"+MaskValue)
}
