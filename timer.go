package stepauth

import (
	"sync"
	"time"
)

// timerService owns every timer the coordinator arms so teardown can
// cancel them all. A fired callback runs outside the service lock.
type timerService struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func newTimerService() *timerService {
	return &timerService{timers: make(map[string]*time.Timer)}
}

// schedule arms a named timer, replacing any timer under the same name.
func (t *timerService) schedule(name string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if old, ok := t.timers[name]; ok {
		old.Stop()
	}
	if d < 0 {
		d = 0
	}
	t.timers[name] = time.AfterFunc(d, func() {
		t.mu.Lock()
		delete(t.timers, name)
		closed := t.closed
		t.mu.Unlock()
		if !closed {
			fn()
		}
	})
}

func (t *timerService) cancel(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[name]; ok {
		timer.Stop()
		delete(t.timers, name)
	}
}

func (t *timerService) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for name, timer := range t.timers {
		timer.Stop()
		delete(t.timers, name)
	}
}
