// Package pipeline holds channel stages for artifact events.
package pipeline

import (
	"path/filepath"

	"cfgvault/internal/model"
)

// Filter drops events for artifacts whose file name matches one of the
// glob patterns in ignoreList. A pattern such as "lab-*" mutes every
// artifact of the devices named lab-something. Malformed patterns never
// match.
func Filter(inCh <-chan model.FileEvent, ignoreList []string) <-chan model.FileEvent {
	outCh := make(chan model.FileEvent, cap(inCh))
	patterns := validPatterns(ignoreList)

	go func() {
		defer close(outCh)

		for event := range inCh {
			if ignored(filepath.Base(event.Path), patterns) {
				continue
			}
			outCh <- event
		}
	}()

	return outCh
}

func validPatterns(list []string) []string {
	out := make([]string, 0, len(list))
	for _, p := range list {
		if _, err := filepath.Match(p, ""); err == nil {
			out = append(out, p)
		}
	}
	return out
}

func ignored(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}
