package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
)

var (
	loginPrompt    = regexp.MustCompile(`(?i)(user(name)?|login)\s*:\s*$`)
	passwordPrompt = regexp.MustCompile(`(?i)pass(word|code)\s*:\s*$`)
	hostKeyPrompt  = regexp.MustCompile(`(?i)\(yes/no(/\[fingerprint\])?\)\??\s*$`)
	anyPrompt      = regexp.MustCompile(`[\w\-.@()/:~\[\]]*[>#$%]\s*$`)
	authFailure    = regexp.MustCompile(`(?i)(login invalid|login incorrect|authentication failed|access denied|bad passwords?|permission denied)`)
	unreachable    = regexp.MustCompile(`(?i)(connection refused|connection timed out|no route to host|unknown host|could not resolve|host is unreachable|unable to connect|destination unreachable)`)
	ansiEscape     = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)
)

// maxLoginSteps bounds the prompts answered before giving up on a login.
const maxLoginSteps = 8

// console drives a device CLI over a byte stream. A background pump
// moves inbound bytes onto a channel so every wait can honor ctx.
type console struct {
	w       io.Writer
	newline string

	chunks   chan []byte
	done     chan struct{}
	stopOnce sync.Once
	readErr  error

	pending    []byte
	prompt     *regexp.Regexp
	promptLine string
	// outer is the jump host prompt while a nested login is in progress.
	// Seeing it again means the nested client exited.
	outer string
}

func newConsole(r io.Reader, w io.Writer, newline string) *console {
	c := &console{
		w:       w,
		newline: newline,
		chunks:  make(chan []byte, 16),
		done:    make(chan struct{}),
		prompt:  anyPrompt,
	}
	go c.pump(r)
	return c
}

func (c *console) pump(r io.Reader) {
	defer close(c.chunks)

	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case c.chunks <- chunk:
			case <-c.done:
				return
			}
		}
		if err != nil {
			c.readErr = err
			return
		}
	}
}

func (c *console) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// expect accumulates output until one of patterns matches, checking them
// in order. It returns the index of the match and the consumed text.
func (c *console) expect(ctx context.Context, patterns ...*regexp.Regexp) (int, string, error) {
	for {
		for i, re := range patterns {
			if loc := re.FindIndex(c.pending); loc != nil {
				out := string(c.pending[:loc[1]])
				c.pending = append([]byte(nil), c.pending[loc[1]:]...)
				return i, out, nil
			}
		}

		select {
		case <-ctx.Done():
			return -1, string(c.pending), ctx.Err()
		case chunk, ok := <-c.chunks:
			if !ok {
				err := c.readErr
				if err == nil || errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				return -1, string(c.pending), fmt.Errorf("session closed: %w", err)
			}
			c.pending = append(c.pending, chunk...)
		}
	}
}

func (c *console) send(line string) error {
	if _, err := io.WriteString(c.w, line+c.newline); err != nil {
		return fmt.Errorf("failed to write to session: %w", err)
	}
	return nil
}

// login answers username, password and host key prompts until a CLI
// prompt shows up. A repeated prompt after the password was sent means
// the credentials were rejected.
func (c *console) login(ctx context.Context, hop Hop, addr, user, password string) error {
	sentPassword := false

	for range maxLoginSteps {
		i, out, err := c.expect(ctx, authFailure, unreachable, loginPrompt, passwordPrompt, hostKeyPrompt, anyPrompt)
		if err != nil {
			return &ConnectionError{Hop: hop, Addr: addr, Err: err}
		}

		switch i {
		case 0:
			return &AuthenticationError{Hop: hop, User: user, Err: errors.New(strings.TrimSpace(lastLine(out)))}
		case 1:
			return &ConnectionError{Hop: hop, Addr: addr, Err: errors.New(strings.TrimSpace(lastLine(out)))}
		case 2:
			if sentPassword {
				return &AuthenticationError{Hop: hop, User: user, Err: errors.New("login prompt repeated")}
			}
			err = c.send(user)
		case 3:
			if sentPassword {
				return &AuthenticationError{Hop: hop, User: user, Err: errors.New("password rejected")}
			}
			sentPassword = true
			err = c.send(password)
		case 4:
			err = c.send("yes")
		case 5:
			if c.outer != "" {
				if promptBase(lastLine(out)) == promptBase(c.outer) {
					return &ConnectionError{Hop: hop, Addr: addr, Err: fmt.Errorf("back at jump host prompt: %s", exitReason(out))}
				}
				c.outer = ""
			}
			c.learnPrompt(out)
			return nil
		}

		if err != nil {
			return &ConnectionError{Hop: hop, Addr: addr, Err: err}
		}
	}

	return &AuthenticationError{Hop: hop, User: user, Err: errors.New("login did not reach a prompt")}
}

// enable escalates a '>' prompt to privileged mode when a password is
// configured.
func (c *console) enable(ctx context.Context, hop Hop, addr, password string) error {
	if password == "" || !strings.HasSuffix(c.promptLine, ">") {
		return nil
	}

	if err := c.send("enable"); err != nil {
		return &ConnectionError{Hop: hop, Addr: addr, Err: err}
	}

	sent := false
	for range maxLoginSteps {
		i, out, err := c.expect(ctx, authFailure, passwordPrompt, c.prompt)
		if err != nil {
			return &ConnectionError{Hop: hop, Addr: addr, Err: err}
		}

		switch i {
		case 0:
			return &AuthenticationError{Hop: hop, User: "enable", Err: errors.New(strings.TrimSpace(lastLine(out)))}
		case 1:
			if sent {
				return &AuthenticationError{Hop: hop, User: "enable", Err: errors.New("enable password rejected")}
			}
			sent = true
			if err := c.send(password); err != nil {
				return &ConnectionError{Hop: hop, Addr: addr, Err: err}
			}
		case 2:
			c.learnPrompt(out)
			if strings.HasSuffix(c.promptLine, ">") {
				return &AuthenticationError{Hop: hop, User: "enable", Err: errors.New("still unprivileged after enable")}
			}
			return nil
		}
	}

	return &AuthenticationError{Hop: hop, User: "enable", Err: errors.New("enable did not reach a prompt")}
}

// run sends one command and returns its output without the echoed
// command line and the trailing prompt.
func (c *console) run(ctx context.Context, command string) (string, error) {
	if err := c.send(command); err != nil {
		return "", err
	}

	_, out, err := c.expect(ctx, c.prompt)
	if err != nil {
		return "", fmt.Errorf("failed waiting for output of %q: %w", command, err)
	}

	return cleanOutput(out, command), nil
}

// learnPrompt pins the prompt to the hostname seen after login, so
// command output ending in '#' or '>' is not mistaken for it.
func (c *console) learnPrompt(out string) {
	c.promptLine = strings.TrimSpace(lastLine(ansiEscape.ReplaceAllString(out, "")))

	base := promptBase(c.promptLine)
	if base == "" {
		c.prompt = anyPrompt
		return
	}
	c.prompt = regexp.MustCompile(regexp.QuoteMeta(base) + `[>#$%]\s*$`)
}

func (c *console) read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		chunk, ok := <-c.chunks
		if !ok {
			if c.readErr != nil {
				return 0, c.readErr
			}
			return 0, io.EOF
		}
		c.pending = chunk
	}

	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// promptBase is a prompt without its mode character, e.g. "r1" for "r1#".
func promptBase(line string) string {
	line = strings.TrimSpace(ansiEscape.ReplaceAllString(line, ""))
	return strings.TrimRight(line, ">#$%")
}

// exitReason is the last message printed before the prompt in out,
// skipping the echoed ssh or telnet command.
func exitReason(out string) string {
	out = strings.ReplaceAll(ansiEscape.ReplaceAllString(out, ""), "\r", "")
	lines := strings.Split(strings.TrimRight(out, "\n "), "\n")
	for i := len(lines) - 2; i >= 0; i-- {
		msg := strings.TrimSpace(lines[i])
		if msg == "" || strings.HasPrefix(msg, "ssh ") || strings.HasPrefix(msg, "telnet ") {
			continue
		}
		return msg
	}
	return "nested session did not open"
}

func cleanOutput(out, command string) string {
	out = ansiEscape.ReplaceAllString(out, "")
	out = strings.ReplaceAll(out, "\r\n", "\n")
	out = strings.ReplaceAll(out, "\r", "")

	lines := strings.Split(out, "\n")
	if len(lines) > 0 && strings.Contains(lines[0], strings.TrimSpace(command)) {
		lines = lines[1:]
	}
	if len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return ""
	}

	return strings.Join(lines, "\n") + "\n"
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\r\n ")
	if i := strings.LastIndexAny(s, "\r\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
