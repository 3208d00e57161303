package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/pin/tftp/v3"
)

type TFTP struct {
	addr    string
	dir     string
	timeout time.Duration
}

func NewTFTP(addr, dir string) *TFTP {
	return &TFTP{addr: addr, dir: dir, timeout: 5 * time.Second}
}

func (r *TFTP) Name() string { return "tftp://" + r.addr }

func (r *TFTP) Push(ctx context.Context, name string, content []byte) error {
	c, err := tftp.NewClient(r.addr)
	if err != nil {
		return fmt.Errorf("failed to create tftp client: %w", err)
	}
	c.SetTimeout(r.timeout)

	dst := name
	if r.dir != "" {
		dst = path.Join(r.dir, name)
	}

	done := make(chan error, 1)
	go func() {
		rf, err := c.Send(dst, "octet")
		if err != nil {
			done <- err
			return
		}
		_, err = rf.ReadFrom(bytes.NewReader(content))
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send %s: %w", dst, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
