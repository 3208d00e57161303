package util

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWriteCreatesParents(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "a", "b", "r1.cfg")

	require.NoError(t, AtomicWrite(dst, strings.NewReader("hostname r1\n")))

	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hostname r1\n", string(b))
}

func TestAtomicWriteReplaces(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "r1.cfg")
	require.NoError(t, AtomicWrite(dst, strings.NewReader("old")))
	require.NoError(t, AtomicWrite(dst, strings.NewReader("new")))

	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new", string(b))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestAtomicWriteLeavesNothingOnFailure(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "r1.cfg")

	require.Error(t, AtomicWrite(dst, failingReader{}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x")
	assert.NoError(t, RemoveIfExists(path))

	require.NoError(t, os.WriteFile(path, nil, 0600))
	assert.NoError(t, RemoveIfExists(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "core-sw1", SafeName("core-sw1"))
	assert.Equal(t, "edge_router_2", SafeName("edge router/2"))
	assert.Equal(t, "fe80_1", SafeName("fe80::1"))
	assert.Equal(t, "unnamed", SafeName(" .. "))
}
