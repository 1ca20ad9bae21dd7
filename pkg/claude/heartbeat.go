package claude

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Heartbeat watches a shared last-output timestamp and emits a periodic
// notice while the subprocess is silent. It never touches the output
// streams themselves; readers call Touch, the watcher only observes.
type Heartbeat struct {
	interval time.Duration
	emit     func(string)

	last   atomic.Int64
	stalls atomic.Int64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// StartHeartbeat begins watching with the given interval. The emit callback
// receives fully formatted notice lines, newline included.
func StartHeartbeat(interval time.Duration, emit func(string)) *Heartbeat {
	h := &Heartbeat{
		interval: interval,
		emit:     emit,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	h.last.Store(time.Now().UnixNano())
	go h.run()
	return h
}

// Touch records that output just arrived.
func (h *Heartbeat) Touch() {
	h.last.Store(time.Now().UnixNano())
}

// Stop cancels the watcher and waits for it to finish.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

// Stalls returns how many notices were emitted.
func (h *Heartbeat) Stalls() int {
	return int(h.stalls.Load())
}

func (h *Heartbeat) run() {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			elapsed := time.Since(time.Unix(0, h.last.Load()))
			if elapsed < h.interval {
				continue
			}
			h.stalls.Add(1)
			h.emit(fmt.Sprintf("[%s] [WAIT] Agent still running... (no output for %ds)\n",
				time.Now().UTC().Format("15:04:05"), int(elapsed.Seconds())))
		}
	}
}
