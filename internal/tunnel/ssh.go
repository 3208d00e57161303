package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"slices"
	"strings"

	"cfgvault/internal/profile"

	"golang.org/x/crypto/ssh"
)

func (m *Manager) clientConfig(h profile.Hop, keyFile string) (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod

	if keyFile != "" {
		signer, err := loadSigner(keyFile, h.Password)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if h.Password != "" {
		password := h.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	cfg := &ssh.ClientConfig{
		User:            h.Username,
		Auth:            methods,
		HostKeyCallback: m.hostKeys,
	}

	if m.legacy {
		supported, insecure := ssh.SupportedAlgorithms(), ssh.InsecureAlgorithms()
		cfg.Ciphers = slices.Concat(supported.Ciphers, insecure.Ciphers)
		cfg.KeyExchanges = slices.Concat(supported.KeyExchanges, insecure.KeyExchanges)
		cfg.MACs = slices.Concat(supported.MACs, insecure.MACs)
		cfg.HostKeyAlgorithms = slices.Concat(supported.HostKeys, insecure.HostKeys)
	}

	return cfg, nil
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(pem)
	if _, ok := errors.AsType[*ssh.PassphraseMissingError](err); ok && passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file: %w", err)
	}

	return signer, nil
}

// handshake runs the SSH handshake over conn, closing conn if ctx ends
// first.
func handshake(ctx context.Context, conn net.Conn, addr string, cfg *ssh.ClientConfig, hop Hop) (*ssh.Client, error) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, &ConnectionError{Hop: hop, Addr: addr, Err: ctx.Err()}
		}
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, &AuthenticationError{Hop: hop, User: cfg.User, Err: err}
		}
		return nil, &ConnectionError{Hop: hop, Addr: addr, Err: err}
	}

	return ssh.NewClient(c, chans, reqs), nil
}

// shell is an interactive PTY session on an SSH client.
type shell struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

func openShell(client *ssh.Client) (*shell, error) {
	s, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 38400,
		ssh.TTY_OP_OSPEED: 38400,
	}
	if err := s.RequestPty("vt100", 0, 511, modes); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to request pty: %w", err)
	}

	stdin, err := s.StdinPipe()
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}

	stdout, err := s.StdoutPipe()
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}

	if err := s.Shell(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	return &shell{session: s, stdin: stdin, stdout: stdout}, nil
}

func (s *shell) Close() error {
	return s.session.Close()
}
