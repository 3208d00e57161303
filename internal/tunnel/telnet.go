package tunnel

import (
	"bytes"
	"io"
	"sync"
)

const (
	cmdSE   = 240
	cmdSB   = 250
	cmdWill = 251
	cmdWont = 252
	cmdDo   = 253
	cmdDont = 254
	cmdIAC  = 255

	optEcho = 1
	optSGA  = 3
)

const (
	stData = iota
	stIAC
	stOption
	stSub
	stSubIAC
)

// telnetConn strips option negotiation from the inbound stream and
// refuses every option except server echo and suppress-go-ahead.
type telnetConn struct {
	conn io.ReadWriteCloser

	wmu sync.Mutex

	state int
	cmd   byte
	raw   []byte
}

func newTelnetConn(conn io.ReadWriteCloser) *telnetConn {
	return &telnetConn{conn: conn}
}

func (t *telnetConn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if cap(t.raw) < len(p) {
		t.raw = make([]byte, len(p))
	}

	for {
		n, err := t.conn.Read(t.raw[:len(p)])
		out := t.filter(t.raw[:n], p)
		if out > 0 || err != nil {
			return out, err
		}
	}
}

func (t *telnetConn) filter(in, out []byte) int {
	n := 0
	for _, b := range in {
		switch t.state {
		case stData:
			if b == cmdIAC {
				t.state = stIAC
				continue
			}
			out[n] = b
			n++
		case stIAC:
			switch b {
			case cmdIAC:
				out[n] = b
				n++
				t.state = stData
			case cmdWill, cmdWont, cmdDo, cmdDont:
				t.cmd = b
				t.state = stOption
			case cmdSB:
				t.state = stSub
			default:
				t.state = stData
			}
		case stOption:
			t.reply(t.cmd, b)
			t.state = stData
		case stSub:
			if b == cmdIAC {
				t.state = stSubIAC
			}
		case stSubIAC:
			if b == cmdSE {
				t.state = stData
			} else {
				t.state = stSub
			}
		}
	}
	return n
}

func (t *telnetConn) reply(cmd, opt byte) {
	var resp byte
	switch cmd {
	case cmdDo:
		resp = cmdWont
	case cmdWill:
		resp = cmdDont
		if opt == optEcho || opt == optSGA {
			resp = cmdDo
		}
	default:
		return
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()
	_, _ = t.conn.Write([]byte{cmdIAC, resp, opt})
}

func (t *telnetConn) Write(p []byte) (int, error) {
	buf := bytes.ReplaceAll(p, []byte{cmdIAC}, []byte{cmdIAC, cmdIAC})

	t.wmu.Lock()
	defer t.wmu.Unlock()
	if _, err := t.conn.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *telnetConn) Close() error {
	return t.conn.Close()
}
