// Package tunnel opens a CLI session to a device, directly or through one
// jump host. Nothing is written on the jump host; the second hop is
// relayed in memory through the first.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"cfgvault/internal/profile"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type Stage string

const (
	StageConnecting     Stage = "CONNECTING"
	StageAuthenticating Stage = "AUTHENTICATING"
)

// Session is an open device CLI. Closing it closes every hop. A Session
// is not safe for concurrent use.
type Session interface {
	io.ReadWriteCloser
	Run(ctx context.Context, command string) (string, error)
}

type Options struct {
	KnownHostsFile   string
	LegacyAlgorithms bool
}

type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Manager struct {
	dialer   Dialer
	hostKeys ssh.HostKeyCallback
	legacy   bool
	log      *zap.Logger
}

func NewManager(opts Options, log *zap.Logger) (*Manager, error) {
	m := &Manager{
		dialer: &net.Dialer{KeepAlive: 30 * time.Second},
		legacy: opts.LegacyAlgorithms,
		log:    log,
	}

	if opts.KnownHostsFile != "" {
		cb, err := knownhosts.New(opts.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		m.hostKeys = cb
	} else {
		log.Warn("no known_hosts file configured, SSH host keys are not verified")
		m.hostKeys = ssh.InsecureIgnoreHostKey()
	}

	return m, nil
}

// HostKeys is the host key policy the manager applies to SSH hops.
func (m *Manager) HostKeys() ssh.HostKeyCallback {
	return m.hostKeys
}

// Open establishes the path described by p. observe, when set, is told
// when each stage begins. The session is closed when ctx ends.
func (m *Manager) Open(ctx context.Context, p profile.Profile, observe func(Stage)) (Session, error) {
	if observe == nil {
		observe = func(Stage) {}
	}

	s := &session{}
	ok := false
	defer func() {
		if !ok {
			_ = s.Close()
		}
	}()

	var err error
	switch p.Kind {
	case profile.DirectSSH:
		err = m.openDirectSSH(ctx, s, p, observe)
	case profile.DirectTelnet:
		err = m.openDirectTelnet(ctx, s, p, observe)
	case profile.JumpSSHToSSH, profile.JumpSSHToTelnet:
		err = m.openViaSSHJump(ctx, s, p, observe)
	case profile.JumpTelnetToSSH, profile.JumpTelnetToTelnet:
		err = m.openViaTelnetJump(ctx, s, p, observe)
	default:
		err = &profile.ValidationError{Code: profile.UnsupportedConnectionType, Field: "kind", Value: string(p.Kind)}
	}
	if err != nil {
		return nil, err
	}

	if err := s.console.enable(ctx, HopTarget, p.Target.Addr(), p.EnablePassword); err != nil {
		return nil, err
	}

	s.stop = context.AfterFunc(ctx, func() { _ = s.Close() })
	ok = true

	m.log.Debug("session open",
		zap.String("device", p.Name),
		zap.String("kind", string(p.Kind)),
		zap.String("prompt", s.console.promptLine))

	return s, nil
}

func (m *Manager) dial(ctx context.Context, hop Hop, addr string) (net.Conn, error) {
	conn, err := m.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Hop: hop, Addr: addr, Err: err}
	}
	return conn, nil
}

func (m *Manager) sshClient(ctx context.Context, s *session, conn net.Conn, hop Hop, h profile.Hop, keyFile string, observe func(Stage)) (*ssh.Client, error) {
	cfg, err := m.clientConfig(h, keyFile)
	if err != nil {
		_ = conn.Close()
		return nil, &AuthenticationError{Hop: hop, User: h.Username, Err: err}
	}

	observe(StageAuthenticating)
	client, err := handshake(ctx, conn, h.Addr(), cfg, hop)
	if err != nil {
		return nil, err
	}

	s.closers = append(s.closers, client)
	return client, nil
}

func (m *Manager) attachShell(ctx context.Context, s *session, client *ssh.Client, hop Hop, h profile.Hop) error {
	sh, err := openShell(client)
	if err != nil {
		return &ConnectionError{Hop: hop, Addr: h.Addr(), Err: err}
	}
	s.closers = append(s.closers, sh)

	s.console = newConsole(sh.stdout, sh.stdin, "\n")
	return s.console.login(ctx, hop, h.Addr(), h.Username, h.Password)
}

func (m *Manager) attachTelnet(ctx context.Context, s *session, conn net.Conn, hop Hop, h profile.Hop, observe func(Stage)) error {
	tc := newTelnetConn(conn)
	s.closers = append(s.closers, tc)

	observe(StageAuthenticating)
	s.console = newConsole(tc, tc, "\r\n")
	return s.console.login(ctx, hop, h.Addr(), h.Username, h.Password)
}

func (m *Manager) openDirectSSH(ctx context.Context, s *session, p profile.Profile, observe func(Stage)) error {
	observe(StageConnecting)
	conn, err := m.dial(ctx, HopTarget, p.Target.Addr())
	if err != nil {
		return err
	}

	client, err := m.sshClient(ctx, s, conn, HopTarget, p.Target, targetKey(p), observe)
	if err != nil {
		return err
	}

	return m.attachShell(ctx, s, client, HopTarget, p.Target)
}

func (m *Manager) openDirectTelnet(ctx context.Context, s *session, p profile.Profile, observe func(Stage)) error {
	observe(StageConnecting)
	conn, err := m.dial(ctx, HopTarget, p.Target.Addr())
	if err != nil {
		return err
	}

	return m.attachTelnet(ctx, s, conn, HopTarget, p.Target, observe)
}

// openViaSSHJump authenticates to the jump host and opens a direct-tcpip
// channel to the target; the target hop runs over that channel.
func (m *Manager) openViaSSHJump(ctx context.Context, s *session, p profile.Profile, observe func(Stage)) error {
	observe(StageConnecting)
	conn, err := m.dial(ctx, HopJump, p.Jump.Addr())
	if err != nil {
		return err
	}

	jump, err := m.sshClient(ctx, s, conn, HopJump, p.Jump, "", observe)
	if err != nil {
		return err
	}

	targetConn, err := jump.DialContext(ctx, "tcp", p.Target.Addr())
	if err != nil {
		return &ConnectionError{Hop: HopTarget, Addr: p.Target.Addr(), Err: err}
	}

	if p.Target.Protocol == profile.Telnet {
		return m.attachTelnet(ctx, s, targetConn, HopTarget, p.Target, observe)
	}

	client, err := m.sshClient(ctx, s, targetConn, HopTarget, p.Target, targetKey(p), observe)
	if err != nil {
		return err
	}

	return m.attachShell(ctx, s, client, HopTarget, p.Target)
}

// openViaTelnetJump logs into the jump host CLI and originates the second
// hop from its prompt.
func (m *Manager) openViaTelnetJump(ctx context.Context, s *session, p profile.Profile, observe func(Stage)) error {
	observe(StageConnecting)
	conn, err := m.dial(ctx, HopJump, p.Jump.Addr())
	if err != nil {
		return err
	}

	if err := m.attachTelnet(ctx, s, conn, HopJump, p.Jump, observe); err != nil {
		return err
	}

	cmd := fmt.Sprintf("telnet %s %d", p.Target.Host, p.Target.Port)
	if p.Target.Protocol == profile.SSH {
		cmd = fmt.Sprintf("ssh -l %s -p %d %s", p.Target.Username, p.Target.Port, p.Target.Host)
	}

	s.console.outer = s.console.promptLine
	if err := s.console.send(cmd); err != nil {
		return &ConnectionError{Hop: HopTarget, Addr: p.Target.Addr(), Err: err}
	}

	return s.console.login(ctx, HopTarget, p.Target.Addr(), p.Target.Username, p.Target.Password)
}

func targetKey(p profile.Profile) string {
	if p.UseKeys {
		return p.KeyFile
	}
	return ""
}

// session composes the hops of one path behind a single Session.
type session struct {
	console *console
	closers []io.Closer

	once     sync.Once
	stop     func() bool
	closeErr error
}

func (s *session) Read(p []byte) (int, error) {
	if s.console == nil {
		return 0, io.EOF
	}
	return s.console.read(p)
}

func (s *session) Write(p []byte) (int, error) {
	if s.console == nil {
		return 0, io.ErrClosedPipe
	}
	return s.console.w.Write(p)
}

func (s *session) Run(ctx context.Context, command string) (string, error) {
	return s.console.run(ctx, command)
}

// Close tears hops down innermost first.
func (s *session) Close() error {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}

		var errs []error
		for i := len(s.closers) - 1; i >= 0; i-- {
			if err := s.closers[i].Close(); err != nil && !benignClose(err) {
				errs = append(errs, err)
			}
		}
		if s.console != nil {
			s.console.stop()
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func benignClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
