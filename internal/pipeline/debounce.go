package pipeline

import (
	"slices"
	"time"

	"cfgvault/internal/model"
)

type pendingEvent struct {
	event model.FileEvent
	seen  time.Time
}

// Debounce emits the last event for a path once the path has been quiet
// for delay. Pending events are flushed when inCh closes.
func Debounce(inCh <-chan model.FileEvent, delay time.Duration) <-chan model.FileEvent {
	outCh := make(chan model.FileEvent, cap(inCh))

	go func() {
		defer close(outCh)

		pending := make(map[string]pendingEvent)
		var timer *time.Timer
		var timerC <-chan time.Time

		for {
			select {
			case event, ok := <-inCh:
				if !ok {
					if timer != nil {
						timer.Stop()
					}
					for _, p := range ordered(pending) {
						outCh <- p.event
					}
					return
				}

				pending[event.Path] = pendingEvent{event: event, seen: time.Now()}
				if timer == nil {
					timer = time.NewTimer(delay)
					timerC = timer.C
				}

			case now := <-timerC:
				var next time.Duration
				for _, p := range ordered(pending) {
					age := now.Sub(p.seen)
					if age >= delay {
						outCh <- p.event
						delete(pending, p.event.Path)
						continue
					}
					if rem := delay - age; next == 0 || rem < next {
						next = rem
					}
				}

				if len(pending) == 0 {
					timer, timerC = nil, nil
				} else {
					timer.Reset(next)
				}
			}
		}
	}()

	return outCh
}

func ordered(pending map[string]pendingEvent) []pendingEvent {
	out := make([]pendingEvent, 0, len(pending))
	for _, p := range pending {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b pendingEvent) int {
		return a.seen.Compare(b.seen)
	})
	return out
}
