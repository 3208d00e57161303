package storage

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cfgvault/internal/config"

	"github.com/pin/tftp/v3"
	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewRemoteNone(t *testing.T) {
	r, err := NewRemote(context.Background(), config.RemoteConfig{Type: "none"}, nil, t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestNewRemoteDefaultsPorts(t *testing.T) {
	log := zaptest.NewLogger(t)

	r, err := NewRemote(context.Background(), config.RemoteConfig{Type: "sftp", Host: "backup.lan"}, nil, "", log)
	require.NoError(t, err)
	assert.Equal(t, "sftp://backup.lan:22", r.Name())

	r, err = NewRemote(context.Background(), config.RemoteConfig{Type: "ftp", Host: "backup.lan", Port: 2121}, nil, "", log)
	require.NoError(t, err)
	assert.Equal(t, "ftp://backup.lan:2121", r.Name())

	r, err = NewRemote(context.Background(), config.RemoteConfig{Type: "tftp", Host: "10.1.1.1"}, nil, "", log)
	require.NoError(t, err)
	assert.Equal(t, "tftp://10.1.1.1:69", r.Name())

	_, err = NewRemote(context.Background(), config.RemoteConfig{Type: "scp"}, nil, "", log)
	assert.Error(t, err)
}

func TestNewRemoteCloudNeedsCredentials(t *testing.T) {
	_, err := NewRemote(context.Background(), config.RemoteConfig{Type: "dropbox"}, nil, t.TempDir(), zaptest.NewLogger(t))
	assert.Error(t, err)

	_, err = NewRemote(context.Background(), config.RemoteConfig{Type: "gdrive"}, nil, t.TempDir(), zaptest.NewLogger(t))
	assert.Error(t, err)
}

// ---------- SFTP ----------

func TestSFTPPush(t *testing.T) {
	root := t.TempDir()
	dst := filepath.Join(root, "configs", "daily")

	r := NewSFTP("unused:22", "backup", "pw", filepath.ToSlash(dst), nil)
	r.connect = func(context.Context) (*sftp.Client, io.Closer, error) {
		clientSide, serverSide := net.Pipe()

		srv, err := sftp.NewServer(serverSide)
		if err != nil {
			return nil, nil, err
		}
		go func() { _ = srv.Serve() }()

		sc, err := sftp.NewClientPipe(clientSide, clientSide)
		if err != nil {
			return nil, nil, err
		}
		return sc, serverSide, nil
	}

	require.NoError(t, r.Push(context.Background(), "r1.cfg", []byte("hostname r1\n")))

	b, err := os.ReadFile(filepath.Join(dst, "r1.cfg"))
	require.NoError(t, err)
	assert.Equal(t, "hostname r1\n", string(b))
}

func TestSFTPPushUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	r := NewSFTP(addr, "backup", "pw", "", nil)
	assert.Error(t, r.Push(context.Background(), "r1.cfg", []byte("x")))
}

// ---------- TFTP ----------

func TestTFTPPush(t *testing.T) {
	var (
		mu   sync.Mutex
		name string
		got  bytes.Buffer
	)

	srv := tftp.NewServer(nil, func(filename string, wt io.WriterTo) error {
		mu.Lock()
		defer mu.Unlock()
		name = filename
		_, err := wt.WriteTo(&got)
		return err
	})

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	go func() { _ = srv.Serve(conn) }()
	t.Cleanup(srv.Shutdown)

	r := NewTFTP(conn.LocalAddr().String(), "cfg")
	require.NoError(t, r.Push(context.Background(), "r1.cfg", []byte("hostname r1\n")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got.String() == "hostname r1\n"
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "cfg/r1.cfg", name)
}

// ---------- FTP ----------

type fakeFTP struct {
	addr string

	mu    sync.Mutex
	files map[string][]byte
	dirs  []string
}

func startFakeFTP(t *testing.T, password string) *fakeFTP {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	f := &fakeFTP{addr: ln.Addr().String(), files: make(map[string][]byte)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn, password)
		}
	}()

	return f
}

func (f *fakeFTP) serve(conn net.Conn, password string) {
	defer func(conn net.Conn) { _ = conn.Close() }(conn)

	r := bufio.NewReader(conn)
	reply := func(format string, args ...any) {
		_, _ = fmt.Fprintf(conn, format+"\r\n", args...)
	}

	var data net.Listener
	reply("220 fake ftp ready")

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(strings.TrimRight(line, "\r\n"), " ")

		switch strings.ToUpper(cmd) {
		case "USER":
			reply("331 password required")
		case "PASS":
			if arg != password {
				reply("530 login incorrect")
				continue
			}
			reply("230 logged in")
		case "TYPE":
			reply("200 type set")
		case "MKD":
			f.mu.Lock()
			f.dirs = append(f.dirs, arg)
			f.mu.Unlock()
			reply("257 \"%s\" created", arg)
		case "EPSV":
			data, err = net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				reply("425 no data port")
				continue
			}
			reply("229 Entering Extended Passive Mode (|||%d|)", data.Addr().(*net.TCPAddr).Port)
		case "STOR":
			if data == nil {
				reply("425 use EPSV first")
				continue
			}
			reply("150 opening data connection")
			dc, err := data.Accept()
			if err != nil {
				reply("425 data connection failed")
				continue
			}
			b, _ := io.ReadAll(dc)
			_ = dc.Close()
			_ = data.Close()
			data = nil

			f.mu.Lock()
			f.files[arg] = b
			f.mu.Unlock()
			reply("226 transfer complete")
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 command not implemented")
		}
	}
}

func TestFTPPush(t *testing.T) {
	srv := startFakeFTP(t, "secret")

	r := NewFTP(srv.addr, "backup", "secret", "/configs/daily")
	require.NoError(t, r.Push(context.Background(), "r1.cfg", []byte("hostname r1\n")))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, []string{"/configs", "/configs/daily"}, srv.dirs)
	assert.Equal(t, "hostname r1\n", string(srv.files["/configs/daily/r1.cfg"]))
}

func TestFTPPushBadLogin(t *testing.T) {
	srv := startFakeFTP(t, "secret")

	r := NewFTP(srv.addr, "backup", "wrong", "")
	assert.ErrorContains(t, r.Push(context.Background(), "r1.cfg", []byte("x")), "failed to log in")
}
