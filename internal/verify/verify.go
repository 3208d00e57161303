// Package verify checksums retrieved configuration and checks it against
// per-vendor syntax patterns.
package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"cfgvault/internal/model"

	"go.uber.org/zap"
)

type PatternResult struct {
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Found       bool   `json:"found"`
}

type Result struct {
	Checksum  string                   `json:"checksum"`
	Size      int64                    `json:"size"`
	Unchanged bool                     `json:"unchanged"`
	Status    model.VerificationStatus `json:"status"`
	Message   string                   `json:"message"`
	Patterns  []PatternResult          `json:"patterns,omitempty"`
}

type Engine struct {
	validate bool
	log      *zap.Logger
}

// NewEngine returns an engine; validateSyntax turns pattern checks on.
func NewEngine(validateSyntax bool, log *zap.Logger) *Engine {
	return &Engine{validate: validateSyntax, log: log}
}

func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Verify scores content against the checksum of the device's previous
// backup. An unchanged result skips pattern checks: the content already
// passed them once.
func (e *Engine) Verify(content []byte, previousChecksum, deviceType string) Result {
	res := Result{
		Checksum: Checksum(content),
		Size:     int64(len(content)),
	}

	if previousChecksum != "" && res.Checksum == previousChecksum {
		res.Unchanged = true
		res.Status = model.VerificationUnchanged
		res.Message = "configuration unchanged since last backup"
		return res
	}

	res.Status = model.Verified
	res.Message = "checksum recorded"
	if !e.validate {
		return res
	}

	missing := 0
	for _, p := range Patterns(deviceType) {
		found := p.Expr.Match(content)
		res.Patterns = append(res.Patterns, PatternResult{
			Description: p.Description,
			Required:    p.Required,
			Found:       found,
		})
		if p.Required && !found {
			missing++
		}
	}

	if missing > 0 {
		res.Status = model.VerificationFailed
		res.Message = fmt.Sprintf("%d required patterns not found", missing)
		e.log.Warn("verification failed",
			zap.String("device_type", deviceType),
			zap.Int("missing", missing))
		return res
	}

	res.Message = "all required patterns found"
	return res
}

// VerifyFile re-checks a stored artifact against its recorded checksum.
func (e *Engine) VerifyFile(path, expectedChecksum string) (model.VerificationStatus, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.VerificationMissing, nil
		}
		return model.VerificationFailed, fmt.Errorf("failed to open artifact: %w", err)
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return model.VerificationFailed, fmt.Errorf("failed to read artifact: %w", err)
	}

	if hex.EncodeToString(h.Sum(nil)) != expectedChecksum {
		e.log.Warn("artifact checksum mismatch",
			zap.String("path", path))
		return model.VerificationFailed, nil
	}

	return model.Verified, nil
}
