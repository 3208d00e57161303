package tunnel

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// ---------- Fake device CLI ----------

type fakeDevice struct {
	hostname   string
	config     string
	user       string
	pass       string
	enablePass string
	// relay lets the CLI originate "telnet host port" and
	// "ssh -l user -p port host" like a jump host.
	relay bool
	// staleHostKey makes the nested ssh client refuse the target's key.
	staleHostKey bool
	// silent devices accept the connection and never say anything.
	silent bool
}

// iacReader drops three-byte telnet negotiation replies sent by the
// client.
type iacReader struct {
	r    io.Reader
	skip int
}

func (ir *iacReader) Read(p []byte) (int, error) {
	buf := make([]byte, len(p))
	for {
		n, err := ir.r.Read(buf)
		out := 0
		for _, b := range buf[:n] {
			if ir.skip > 0 {
				ir.skip--
				continue
			}
			if b == cmdIAC {
				ir.skip = 2
				continue
			}
			p[out] = b
			out++
		}
		if out > 0 || err != nil {
			return out, err
		}
	}
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (d fakeDevice) serveCLI(rw io.ReadWriter, interactiveLogin bool) {
	br := bufio.NewReader(&iacReader{r: rw})
	write := func(s string) { _, _ = io.WriteString(rw, s) }

	if interactiveLogin {
		for attempt := 0; ; attempt++ {
			write("User Access Verification\r\n\r\nUsername: ")
			user, err := readLine(br)
			if err != nil {
				return
			}
			write("Password: ")
			pass, err := readLine(br)
			if err != nil {
				return
			}
			if user == d.user && pass == d.pass {
				break
			}
			write("\r\n% Login invalid\r\n\r\n")
			if attempt == 2 {
				return
			}
		}
	}

	privileged := d.enablePass == ""
	prompt := func() string {
		if privileged {
			return d.hostname + "#"
		}
		return d.hostname + ">"
	}

	write("\r\n" + prompt())
	for {
		line, err := readLine(br)
		if err != nil {
			return
		}
		write(line + "\r\n")

		switch {
		case line == "enable":
			write("Password: ")
			pw, err := readLine(br)
			if err != nil {
				return
			}
			write("\r\n")
			if pw == d.enablePass {
				privileged = true
			} else {
				write("% Access denied\r\n\r\n")
			}
		case line == "terminal length 0":
		case line == "show running-config":
			write(strings.ReplaceAll(d.config, "\n", "\r\n"))
		case line == "exit":
			return
		case d.relay && strings.HasPrefix(line, "telnet "):
			if d.relayTo(line, br, rw) {
				return
			}
		case d.relay && strings.HasPrefix(line, "ssh "):
			if d.relaySSH(line, br, rw) {
				return
			}
		default:
			write("% Invalid input detected\r\n")
		}
		write(prompt())
	}
}

// relayTo connects to the target named in a "telnet host port" line and
// pipes the client through. It reports whether the relay ran.
func (d fakeDevice) relayTo(line string, br *bufio.Reader, rw io.ReadWriter) bool {
	fields := strings.Fields(line)
	addr := net.JoinHostPort(fields[1], fields[2])

	target, err := net.Dial("tcp", addr)
	if err != nil {
		_, _ = io.WriteString(rw, "% Connection refused by remote host\r\n")
		return false
	}
	defer func(target net.Conn) {
		_ = target.Close()
	}(target)

	_, _ = io.WriteString(rw, "Trying "+addr+" ... Open\r\n")
	go func() {
		_, _ = io.Copy(target, br)
		_ = target.Close()
	}()
	_, _ = io.Copy(rw, target)
	return true
}

// relaySSH plays an OpenSSH client started from the jump CLI: host key
// question, password prompt, then a shell on the target piped through.
func (d fakeDevice) relaySSH(line string, br *bufio.Reader, rw io.ReadWriter) bool {
	write := func(s string) { _, _ = io.WriteString(rw, s) }

	fields := strings.Fields(line)
	if len(fields) != 6 || fields[1] != "-l" || fields[3] != "-p" {
		write("usage: ssh -l login -p port host\r\n")
		return false
	}
	user, port, host := fields[2], fields[4], fields[5]
	addr := net.JoinHostPort(host, port)

	if d.staleHostKey {
		write("Host key verification failed.\r\n")
		return false
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		write("ssh: connect to host " + host + " port " + port + ": Connection refused\r\n")
		return false
	}

	write("The authenticity of host '" + host + "' can't be established.\r\n" +
		"Are you sure you want to continue connecting (yes/no)? ")
	if answer, err := readLine(br); err != nil || answer != "yes" {
		_ = conn.Close()
		write("Host key verification failed.\r\n")
		return false
	}

	write(user + "@" + host + "'s password: ")
	pass, err := readLine(br)
	if err != nil {
		_ = conn.Close()
		return true
	}

	sconn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(pass)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
	if err != nil {
		_ = conn.Close()
		write("\r\nPermission denied (publickey,password).\r\n")
		return false
	}
	client := ssh.NewClient(sconn, chans, reqs)
	defer func(client *ssh.Client) {
		_ = client.Close()
	}(client)

	sess, err := client.NewSession()
	if err != nil {
		write("channel open failed\r\n")
		return false
	}
	stdin, _ := sess.StdinPipe()
	stdout, _ := sess.StdoutPipe()
	if err := sess.RequestPty("vt100", 24, 200, ssh.TerminalModes{}); err != nil {
		return false
	}
	if err := sess.Shell(); err != nil {
		return false
	}

	go func() {
		_, _ = io.Copy(stdin, br)
		_ = sess.Close()
	}()
	_, _ = io.Copy(rw, stdout)
	return true
}

// ---------- Fake servers ----------

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, n
}

func startTelnetServer(t *testing.T, dev fakeDevice) string {
	ln := listen(t)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer func(conn net.Conn) {
					_ = conn.Close()
				}(conn)

				if dev.silent {
					_, _ = io.Copy(io.Discard, conn)
					return
				}
				_, _ = conn.Write([]byte{cmdIAC, cmdWill, optEcho, cmdIAC, cmdDo, 24})
				dev.serveCLI(conn, true)
			}(conn)
		}
	}()

	return ln.Addr().String()
}

func startSSHServer(t *testing.T, dev fakeDevice, allowForward bool) string {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == dev.user && string(pass) == dev.pass {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
	}
	cfg.AddHostKey(signer)

	ln := listen(t)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(conn, cfg, dev, allowForward)
		}
	}()

	return ln.Addr().String()
}

type directTCPIP struct {
	Host     string
	Port     uint32
	OrigHost string
	OrigPort uint32
}

func serveSSH(conn net.Conn, cfg *ssh.ServerConfig, dev fakeDevice, allowForward bool) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return
	}
	defer func(sconn *ssh.ServerConn) {
		_ = sconn.Close()
	}(sconn)
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		switch newCh.ChannelType() {
		case "session":
			ch, chReqs, err := newCh.Accept()
			if err != nil {
				continue
			}
			go func() {
				for req := range chReqs {
					ok := req.Type == "pty-req" || req.Type == "shell"
					if req.WantReply {
						_ = req.Reply(ok, nil)
					}
					if req.Type == "shell" {
						go func() {
							dev.serveCLI(ch, false)
							_ = ch.Close()
						}()
					}
				}
			}()
		case "direct-tcpip":
			if !allowForward {
				_ = newCh.Reject(ssh.Prohibited, "forwarding disabled")
				continue
			}
			var payload directTCPIP
			if err := ssh.Unmarshal(newCh.ExtraData(), &payload); err != nil {
				_ = newCh.Reject(ssh.ConnectionFailed, err.Error())
				continue
			}
			target, err := net.Dial("tcp", net.JoinHostPort(payload.Host, fmt.Sprint(payload.Port)))
			if err != nil {
				_ = newCh.Reject(ssh.ConnectionFailed, err.Error())
				continue
			}
			ch, chReqs, err := newCh.Accept()
			if err != nil {
				_ = target.Close()
				continue
			}
			go ssh.DiscardRequests(chReqs)
			go func() {
				go func() { _, _ = io.Copy(target, ch) }()
				_, _ = io.Copy(ch, target)
				_ = ch.Close()
				_ = target.Close()
			}()
		default:
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")
		}
	}
}

// closedAddr returns an address nothing listens on.
func closedAddr(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}
