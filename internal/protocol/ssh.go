package protocol

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/nao1215/lure/internal/model"
)

// SSH defaults.
const (
	DefaultSSHBanner           = "SSH-2.0-OpenSSH_8.2p1 Ubuntu-4ubuntu0.5"
	DefaultSSHMaxAuthTries     = 6
	DefaultSSHHandshakeTimeout = 30 * time.Second
)

// errPermissionDenied is returned to every password attempt.
var errPermissionDenied = errors.New("permission denied")

// SSHHandler emulates an OpenSSH server that accepts password
// authentication attempts and rejects all of them.
type SSHHandler struct {
	emit             *Emitter
	banner           string
	hostKeyPath      string
	maxAuthTries     int
	handshakeTimeout time.Duration

	mu     sync.RWMutex
	signer ssh.Signer
}

// SSHOption configures an SSHHandler.
type SSHOption func(*SSHHandler)

// WithSSHBanner sets the server version string.
func WithSSHBanner(banner string) SSHOption {
	return func(h *SSHHandler) {
		if banner != "" {
			h.banner = banner
		}
	}
}

// WithSSHHostKeyPath sets where the host key is loaded from or created.
func WithSSHHostKeyPath(path string) SSHOption {
	return func(h *SSHHandler) {
		h.hostKeyPath = path
	}
}

// WithSSHSigner sets the host key directly.
func WithSSHSigner(signer ssh.Signer) SSHOption {
	return func(h *SSHHandler) {
		h.signer = signer
	}
}

// WithSSHMaxAuthTries bounds password attempts per connection.
func WithSSHMaxAuthTries(n int) SSHOption {
	return func(h *SSHHandler) {
		if n > 0 {
			h.maxAuthTries = n
		}
	}
}

// WithSSHHandshakeTimeout bounds the whole exchange.
func WithSSHHandshakeTimeout(d time.Duration) SSHOption {
	return func(h *SSHHandler) {
		if d > 0 {
			h.handshakeTimeout = d
		}
	}
}

// NewSSHHandler creates an SSH handler. Without WithSSHSigner the host
// key is prepared by Start.
func NewSSHHandler(emit *Emitter, opts ...SSHOption) *SSHHandler {
	h := &SSHHandler{
		emit:             emit,
		banner:           DefaultSSHBanner,
		maxAuthTries:     DefaultSSHMaxAuthTries,
		handshakeTimeout: DefaultSSHHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Protocol implements Handler.
func (h *SSHHandler) Protocol() model.Protocol {
	return model.ProtocolSSH
}

// Start implements Starter. It loads the host key, generating and
// persisting a new one on first use.
func (h *SSHHandler) Start(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.signer != nil {
		return nil
	}
	if h.hostKeyPath == "" {
		return errors.New("ssh: no host key configured")
	}

	signer, err := LoadOrCreateHostKey(h.hostKeyPath)
	if err != nil {
		return err
	}
	h.signer = signer
	return nil
}

// Serve implements Handler.
func (h *SSHHandler) Serve(ctx context.Context, conn net.Conn, sess model.Session) error {
	defer conn.Close()

	h.mu.RLock()
	signer := h.signer
	h.mu.RUnlock()
	if signer == nil {
		return errors.New("ssh: handler not started")
	}

	h.emit.Connection(ctx, sess)

	if err := conn.SetDeadline(time.Now().Add(h.handshakeTimeout)); err != nil {
		return err
	}

	attempts := 0
	cfg := &ssh.ServerConfig{
		ServerVersion: h.banner,
		MaxAuthTries:  h.maxAuthTries,
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			attempts++
			e := sess.NewEvent(model.EventAuthAttempt)
			e.Username = meta.User()
			e.Password = string(password)
			e.SetRaw("client_version", string(meta.ClientVersion()))
			e.SetRaw("attempt", attempts)
			h.emit.Emit(ctx, e)
			return nil, errPermissionDenied
		},
	}
	cfg.AddHostKey(signer)

	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		if attempts >= h.maxAuthTries {
			return fmt.Errorf("%w: %d authentication attempts: %w", ErrLimit, attempts, err)
		}
		if clientGaveUp(err) {
			return fmt.Errorf("%w: client disconnected after %d attempts", io.EOF, attempts)
		}
		return idle(err)
	}

	// Unreachable while every password is rejected.
	go ssh.DiscardRequests(reqs)
	for ch := range chans {
		_ = ch.Reject(ssh.Prohibited, "administratively prohibited")
	}
	return sconn.Close()
}

// clientGaveUp reports whether the handshake ended because the client
// closed the connection after failed authentication.
func clientGaveUp(err error) bool {
	var ptr *ssh.ServerAuthError
	var val ssh.ServerAuthError
	return errors.As(err, &ptr) || errors.As(err, &val)
}

// LoadOrCreateHostKey reads a PEM private key from path. When the file does
// not exist, a new ed25519 key is generated and written there in OpenSSH
// format with mode 0600.
func LoadOrCreateHostKey(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err == nil {
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse host key %s: %w", path, err)
		}
		return signer, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read host key %s: %w", path, err)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		return nil, fmt.Errorf("failed to encode host key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create host key directory: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write host key %s: %w", path, err)
	}

	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	return signer, nil
}
