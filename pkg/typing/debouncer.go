package typing

import (
	"sync"
	"time"
)

// Debouncer turns raw keystrokes into at most one true and one false per burst:
// true on the first keystroke after idle, false after the idle window or on send.
// emit is called with the Debouncer's lock held and must not call back into it.
type Debouncer struct {
	mu     sync.Mutex
	idle   time.Duration
	emit   func(isTyping bool)
	typing bool
	timer  *time.Timer
	gen    uint64
}

func NewDebouncer(idle time.Duration, emit func(isTyping bool)) *Debouncer {
	return &Debouncer{idle: idle, emit: emit}
}

func (d *Debouncer) Keystroke() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.typing {
		d.typing = true
		d.emit(true)
	}

	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.idle, func() { d.expire(gen) })
}

// Sent ends the burst immediately.
func (d *Debouncer) Sent() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

func (d *Debouncer) Stop() {
	d.Sent()
}

func (d *Debouncer) IsTyping() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.typing
}

func (d *Debouncer) expire(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// a later keystroke re-armed the timer
	if gen != d.gen {
		return
	}
	d.stopLocked()
}

func (d *Debouncer) stopLocked() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.typing {
		d.typing = false
		d.emit(false)
	}
}
