package dianya

import (
	"strings"
	"sync"
)

// Transcript accumulates results of one stream: the latest partial and the
// ordered log of final segments.
type Transcript struct {
	mu      sync.RWMutex
	partial string
	finals  []string
}

// Apply folds ev into the transcript and reports whether it changed.
// A final result clears the pending partial; empty finals are not logged.
func (t *Transcript) Apply(ev Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Kind {
	case EventPartialResult:
		if t.partial == ev.Text {
			return false
		}
		t.partial = ev.Text
		return true
	case EventFinalResult:
		changed := t.partial != ""
		t.partial = ""
		if ev.Text != "" {
			t.finals = append(t.finals, ev.Text)
			changed = true
		}
		return changed
	default:
		return false
	}
}

func (t *Transcript) Partial() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.partial
}

func (t *Transcript) Finals() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.finals))
	copy(out, t.finals)
	return out
}

// Text joins the final segments, one per line.
func (t *Transcript) Text() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return strings.Join(t.finals, "\n")
}

func (t *Transcript) Reset() {
	t.mu.Lock()
	t.partial = ""
	t.finals = nil
	t.mu.Unlock()
}
