package pipeline

import (
	"os"

	"cfgvault/internal/model"
	"cfgvault/internal/verify"

	"go.uber.org/zap"
)

// ChecksumFilter drops create and write events for artifacts whose content
// hashes the same as the last time they were seen, so a rewrite with
// identical bytes does not trigger another audit. Remove and rename events
// always pass and forget the artifact.
type ChecksumFilter struct {
	seen map[string]string
	log  *zap.Logger
}

func NewChecksumFilter(log *zap.Logger) *ChecksumFilter {
	return &ChecksumFilter{
		seen: make(map[string]string),
		log:  log,
	}
}

// Run must be called at most once; seen is owned by its goroutine.
func (cf *ChecksumFilter) Run(inCh <-chan model.FileEvent) <-chan model.FileEvent {
	outCh := make(chan model.FileEvent, cap(inCh))

	go func() {
		defer close(outCh)

		for event := range inCh {
			if cf.pass(event) {
				outCh <- event
			}
		}
	}()

	return outCh
}

func (cf *ChecksumFilter) pass(event model.FileEvent) bool {
	if event.Type == model.EventRemove || event.Type == model.EventRename {
		delete(cf.seen, event.Path)
		return true
	}

	content, err := os.ReadFile(event.Path)
	if err != nil {
		cf.log.Debug("artifact unreadable, skipping",
			zap.String("path", event.Path),
			zap.Error(err))
		return false
	}

	sum := verify.Checksum(content)
	if cf.seen[event.Path] == sum {
		cf.log.Debug("artifact content unchanged, skipping",
			zap.String("path", event.Path))
		return false
	}

	cf.seen[event.Path] = sum
	return true
}
