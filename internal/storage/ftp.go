package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

type FTP struct {
	addr     string
	user     string
	password string
	dir      string
}

func NewFTP(addr, user, password, dir string) *FTP {
	if user == "" {
		user = "anonymous"
	}
	return &FTP{addr: addr, user: user, password: password, dir: dir}
}

func (r *FTP) Name() string { return "ftp://" + r.addr }

func (r *FTP) Push(ctx context.Context, name string, content []byte) error {
	c, err := ftp.Dial(r.addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func(c *ftp.ServerConn) { _ = c.Quit() }(c)

	if err := c.Login(r.user, r.password); err != nil {
		return fmt.Errorf("failed to log in: %w", err)
	}

	if err := r.ensureDir(c); err != nil {
		return err
	}

	dst := path.Join(r.dir, name)
	if err := c.Stor(dst, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("failed to store %s: %w", dst, err)
	}

	return nil
}

// ensureDir creates each element of the remote directory, ignoring
// errors for elements that already exist.
func (r *FTP) ensureDir(c *ftp.ServerConn) error {
	if r.dir == "" {
		return nil
	}

	cur := ""
	if strings.HasPrefix(r.dir, "/") {
		cur = "/"
	}
	for _, part := range strings.Split(strings.Trim(r.dir, "/"), "/") {
		if part == "" {
			continue
		}
		cur = path.Join(cur, part)
		_ = c.MakeDir(cur)
	}

	return nil
}
