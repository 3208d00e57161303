package storage

import (
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

type SFTP struct {
	addr     string
	user     string
	password string
	dir      string
	hostKeys ssh.HostKeyCallback
	connect  func(ctx context.Context) (*sftp.Client, io.Closer, error)
}

func NewSFTP(addr, user, password, dir string, hostKeys ssh.HostKeyCallback) *SFTP {
	if hostKeys == nil {
		hostKeys = ssh.InsecureIgnoreHostKey()
	}

	r := &SFTP{addr: addr, user: user, password: password, dir: dir, hostKeys: hostKeys}
	r.connect = r.dial
	return r
}

func (r *SFTP) Name() string { return "sftp://" + r.addr }

func (r *SFTP) dial(ctx context.Context) (*sftp.Client, io.Closer, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", r.addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	cfg := &ssh.ClientConfig{
		User:            r.user,
		Auth:            []ssh.AuthMethod{ssh.Password(r.password)},
		HostKeyCallback: r.hostKeys,
		Timeout:         30 * time.Second,
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, r.addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open ssh session: %w", err)
	}
	client := ssh.NewClient(c, chans, reqs)

	sc, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to start sftp: %w", err)
	}

	return sc, client, nil
}

func (r *SFTP) Push(ctx context.Context, name string, content []byte) error {
	sc, closer, err := r.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = sc.Close()
		_ = closer.Close()
	}()

	if r.dir != "" {
		if err := sc.MkdirAll(r.dir); err != nil {
			return fmt.Errorf("failed to create %s: %w", r.dir, err)
		}
	}

	dst := path.Join(r.dir, name)
	f, err := sc.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}

	return nil
}
