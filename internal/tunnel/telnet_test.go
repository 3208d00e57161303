package tunnel

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelnetNegotiation(t *testing.T) {
	client, server := net.Pipe()
	tc := newTelnetConn(client)
	defer func(tc *telnetConn) {
		_ = tc.Close()
	}(tc)

	replies := make(chan []byte, 1)
	go func() {
		_, _ = server.Write([]byte{cmdIAC, cmdWill, optEcho, 'h', 'i', cmdIAC, cmdIAC, cmdIAC, cmdDo, 31})
		buf := make([]byte, 6)
		_, _ = io.ReadFull(server, buf)
		replies <- buf
		_, _ = server.Write([]byte{cmdIAC, cmdSB, 24, 1, cmdIAC, cmdSE, '!'})
	}()

	got := make([]byte, 0, 8)
	buf := make([]byte, 16)
	for len(got) < 4 {
		n, err := tc.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}

	assert.Equal(t, []byte{'h', 'i', cmdIAC, '!'}, got)
	assert.Equal(t, []byte{cmdIAC, cmdDo, optEcho, cmdIAC, cmdWont, 31}, <-replies)
}

func TestTelnetWriteEscapesIAC(t *testing.T) {
	client, server := net.Pipe()
	tc := newTelnetConn(client)

	go func() {
		_, _ = tc.Write([]byte{'a', cmdIAC, 'b'})
		_ = tc.Close()
	}()

	data, err := io.ReadAll(server)
	require.NoError(t, err)
	assert.Equal(t, []byte{'a', cmdIAC, cmdIAC, 'b'}, data)
}

func TestTelnetToleratesNOPAndSplitSubnegotiation(t *testing.T) {
	const nop, ga = 241, 249
	tc := newTelnetConn(nil)

	chunks := [][]byte{
		{'a', cmdIAC},
		{nop, 'b', cmdIAC, ga},
		{'c', cmdIAC, cmdSB, 24},
		{0, 'x', cmdIAC},
		{cmdSE, 'd'},
	}

	var got []byte
	for _, c := range chunks {
		out := make([]byte, len(c))
		n := tc.filter(c, out)
		got = append(got, out[:n]...)
	}

	assert.Equal(t, "abcd", string(got))
	assert.Equal(t, stData, tc.state)
}
