package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/nao1215/lure/internal/config"
	"github.com/nao1215/lure/internal/database"
	"github.com/nao1215/lure/internal/model"
)

// testConfig returns a config whose store lives in a temporary directory,
// with every listener and the metrics endpoint disabled except FTP.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.BindAddress = "127.0.0.1"
	cfg.Ports = config.Ports{FTP: 2121}
	cfg.Database.Dir = filepath.Join(dir, "data")
	cfg.SSH.HostKeyPath = filepath.Join(dir, "ssh_host_ed25519_key")
	cfg.ShutdownGraceSeconds = 1
	cfg.Log.Level = "error"
	return cfg
}

// writeConfig stores cfg as YAML and returns the file path.
func writeConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("failed to marshal config: %v", err)
	}
	path := filepath.Join(t.TempDir(), config.DefaultConfigFile)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// seedStore writes events into the store configured by cfg.
func seedStore(t *testing.T, cfg *config.Config, events ...*model.Event) {
	t.Helper()

	store, err := database.Open(context.Background(), database.DriverSQLite, cfg.Database.Dir, database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	for _, e := range events {
		if err := store.Write(context.Background(), e); err != nil {
			t.Fatalf("failed to write event: %v", err)
		}
	}
}

// readStore returns every stored event, newest first.
func readStore(t *testing.T, cfg *config.Config) []*model.Event {
	t.Helper()

	opts := database.DefaultOptions()
	opts.CreateIfNotExists = false
	store, err := database.Open(context.Background(), database.DriverSQLite, cfg.Database.Dir, opts)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	events, err := store.List(context.Background(), database.ListOptions{})
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	return events
}

func testEvent(ip string, p model.Protocol, typ model.EventType, user, pass string) *model.Event {
	sess := model.Session{ID: "sess-" + ip, Protocol: p, SourceIP: ip, SourcePort: 40000, DestPort: 22}
	e := sess.NewEvent(typ)
	e.Username = user
	e.Password = pass
	return e
}

// runRoot executes the root command with args and returns stdout.
func runRoot(ctx context.Context, args ...string) (string, error) {
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
