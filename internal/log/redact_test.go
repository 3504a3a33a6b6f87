package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

// TestRedactHandler_SecretKeys tests that operator secrets are always masked.
func TestRedactHandler_SecretKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		key      string
		value    string
		wantMask bool
	}{
		{name: "tracker token is masked", key: "tracker_token", value: "f00dfeed", wantMask: true},
		{name: "authorization is masked", key: "Authorization", value: "Token abc", wantMask: true},
		{name: "host key is masked", key: "host_key", value: "ssh-ed25519 AAAA", wantMask: true},
		{name: "bearer value is masked", key: "header", value: "Bearer abc.def", wantMask: true},
		{name: "username is kept", key: "username", value: "root", wantMask: false},
		{name: "protocol is kept", key: "protocol", value: "telnet", wantMask: false},
		{name: "source ip is kept", key: "source_ip", value: "203.0.113.9", wantMask: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			logger, err := New(&buf, Options{Level: "debug", RedactCredentials: false})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			logger.Info("test message", tt.key, tt.value)
			output := buf.String()

			if tt.wantMask {
				if strings.Contains(output, tt.value) {
					t.Errorf("expected %q to be masked: %s", tt.value, output)
				}
				if !strings.Contains(output, MaskValue) {
					t.Errorf("expected mask in output: %s", output)
				}
			} else if !strings.Contains(output, tt.value) {
				t.Errorf("expected %q in output: %s", tt.value, output)
			}
		})
	}
}

// TestRedactHandler_Credentials tests the attacker credential switch.
func TestRedactHandler_Credentials(t *testing.T) {
	t.Parallel()

	t.Run("masked when enabled", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		logger := slog.New(NewRedactHandler(slog.NewTextHandler(&buf, nil), true))
		logger.Info("auth attempt", "username", "root", "password", "toor")

		if strings.Contains(buf.String(), "toor") {
			t.Errorf("expected password to be masked: %s", buf.String())
		}
		if !strings.Contains(buf.String(), "root") {
			t.Errorf("expected username to be kept: %s", buf.String())
		}
	})

	t.Run("kept when disabled", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		logger := slog.New(NewRedactHandler(slog.NewTextHandler(&buf, nil), false))
		logger.Info("auth attempt", "username", "root", "password", "toor")

		if !strings.Contains(buf.String(), "password=toor") {
			t.Errorf("expected password in output: %s", buf.String())
		}
	})
}

// TestRedactHandler_GroupsAndWith tests masking inside groups and With attributes.
func TestRedactHandler_GroupsAndWith(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := New(&buf, Options{Level: "info", Format: "json", RedactCredentials: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.With("token", "abc123").
		WithGroup("tracker").
		Info("request", slog.Group("auth", slog.String("password", "hunter2")))

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if decoded["token"] != MaskValue {
		t.Errorf("expected token to be masked, got %v", decoded["token"])
	}
	if strings.Contains(buf.String(), "hunter2") {
		t.Errorf("expected nested password to be masked: %s", buf.String())
	}
}

// TestRedactDSN tests connection string masking.
func TestRedactDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{
			input: "postgres://lure:s3cret@db:5432/lure?sslmode=disable",
			want:  "postgres://lure:" + MaskValue + "@db:5432/lure?sslmode=disable",
		},
		{
			input: "host=db user=lure password=s3cret dbname=lure",
			want:  "host=db user=lure password=" + MaskValue + " dbname=lure",
		},
		{
			input: "nats://127.0.0.1:4222",
			want:  "nats://127.0.0.1:4222",
		},
	}

	for _, tt := range tests {
		if got := RedactDSN(tt.input); got != tt.want {
			t.Errorf("RedactDSN(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

// TestNewOptions tests logger construction errors and levels.
func TestNewOptions(t *testing.T) {
	t.Parallel()

	if _, err := New(&bytes.Buffer{}, Options{Level: "loud"}); err == nil {
		t.Error("expected an error for an unknown level")
	}
	if _, err := New(&bytes.Buffer{}, Options{Format: "xml"}); err == nil {
		t.Error("expected an error for an unknown format")
	}

	var buf bytes.Buffer
	logger, err := New(&buf, Options{Level: "warn"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected level filtering: %s", buf.String())
	}
}
