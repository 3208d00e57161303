// Package storage writes backup artifacts, pushes them to an optional
// remote and prunes old ones.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"cfgvault/internal/model"
	"cfgvault/internal/util"

	"go.uber.org/zap"
)

const (
	timestampLayout = "20060102T150405.000000000Z"
	artifactExt     = ".cfg"
)

type TransferError struct {
	Op     string
	Target string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s to %s failed: %v", e.Op, e.Target, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Artifact describes a written backup. Pruned lists older artifacts of
// the same device removed by retention.
type Artifact struct {
	Path   string
	Size   int64
	Pruned []string
}

type Remote interface {
	Name() string
	Push(ctx context.Context, name string, content []byte) error
}

const (
	RetainCount  = "count"
	RetainTime   = "time"
	RetainHybrid = "hybrid"
)

// Retention decides which artifacts of a device survive a save.
//
// count keeps the newest MaxCount. time drops artifacts older than MaxAge.
// hybrid drops by age but always keeps the newest MinCount, and also
// applies MaxCount when it is set. A zero MaxCount or MaxAge disables that
// bound.
type Retention struct {
	Type     string
	MaxCount int
	MaxAge   time.Duration
	MinCount int
}

// drop reports whether the artifact at rank (0 is the newest) and of the
// given age falls outside the policy.
func (r Retention) drop(rank int, age time.Duration) bool {
	switch r.Type {
	case RetainTime:
		return r.MaxAge > 0 && age > r.MaxAge
	case RetainHybrid:
		if r.MaxCount > 0 && rank >= r.MaxCount {
			return true
		}
		return r.MaxAge > 0 && age > r.MaxAge && rank >= max(r.MinCount, 1)
	default:
		return r.MaxCount > 0 && rank >= r.MaxCount
	}
}

type Store struct {
	dir    string
	keep   Retention
	remote Remote
	log    *zap.Logger
}

// New returns a store writing into dir. The zero Retention keeps every
// artifact; remote may be nil.
func New(dir string, keep Retention, remote Remote, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup dir: %w", err)
	}

	return &Store{dir: dir, keep: keep, remote: remote, log: log}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// ArtifactName is <device_name>_<ip_address>_<UTC timestamp>.cfg with
// both identifiers made path safe.
func ArtifactName(deviceName, ip string, at time.Time) string {
	return artifactPrefix(deviceName, ip) + at.UTC().Format(timestampLayout) + artifactExt
}

func artifactPrefix(deviceName, ip string) string {
	return util.SafeName(deviceName) + "_" + util.SafeName(ip) + "_"
}

func (s *Store) Save(ctx context.Context, d model.Device, content []byte, at time.Time) (Artifact, error) {
	name := ArtifactName(d.Name, d.IPAddress, at)
	path := filepath.Join(s.dir, name)

	if err := util.AtomicWrite(path, bytes.NewReader(content)); err != nil {
		return Artifact{}, &TransferError{Op: "write", Target: path, Err: err}
	}

	if s.remote != nil {
		if err := s.remote.Push(ctx, name, content); err != nil {
			_ = util.RemoveIfExists(path)
			return Artifact{}, &TransferError{Op: "push", Target: s.remote.Name(), Err: err}
		}
		s.log.Info("artifact pushed",
			zap.String("device", d.Name),
			zap.String("remote", s.remote.Name()),
			zap.String("name", name))
	}

	art := Artifact{Path: path, Size: int64(len(content))}

	pruned, err := s.prune(d, at)
	if err != nil {
		s.log.Warn("failed to prune old artifacts", zap.String("device", d.Name), zap.Error(err))
	}
	art.Pruned = pruned

	return art, nil
}

type stamped struct {
	path string
	at   time.Time
}

// List returns the artifacts of a device, oldest first.
func (s *Store) List(d model.Device) ([]string, error) {
	arts, err := s.artifacts(d)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(arts))
	for _, a := range arts {
		out = append(out, a.path)
	}
	return out, nil
}

func (s *Store) artifacts(d model.Device) ([]stamped, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup dir: %w", err)
	}

	prefix := artifactPrefix(d.Name, d.IPAddress)
	var out []stamped
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, artifactExt) {
			continue
		}

		at, err := time.Parse(timestampLayout, strings.TrimSuffix(strings.TrimPrefix(name, prefix), artifactExt))
		if err != nil {
			continue
		}
		out = append(out, stamped{path: filepath.Join(s.dir, name), at: at})
	}

	slices.SortFunc(out, func(a, b stamped) int { return a.at.Compare(b.at) })
	return out, nil
}

// prune measures artifact age against now, the time of the save that
// triggered it.
func (s *Store) prune(d model.Device, now time.Time) ([]string, error) {
	if s.keep == (Retention{}) {
		return nil, nil
	}

	arts, err := s.artifacts(d)
	if err != nil {
		return nil, err
	}

	var removed []string
	for i, a := range arts {
		if !s.keep.drop(len(arts)-1-i, now.Sub(a.at)) {
			continue
		}
		if err := util.RemoveIfExists(a.path); err != nil {
			return removed, err
		}
		removed = append(removed, a.path)
	}
	if len(removed) == 0 {
		return nil, nil
	}

	s.log.Debug("pruned old artifacts",
		zap.String("device", d.Name),
		zap.String("policy", s.keep.Type),
		zap.Int("removed", len(removed)))

	return removed, nil
}
