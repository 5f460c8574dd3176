package audio

import (
	"sync"
	"time"
)

// PacingBuffer decouples the arrival cadence of audio payloads from their
// delivery cadence. Payloads are queued on [PacingBuffer.Add] and emitted one
// per tick of a fixed-interval timer. When the queue is full the oldest entry
// is evicted first — for live audio, recency beats completeness.
//
// Emission happens on a fresh goroutine so a slow consumer can never stall
// the timer. Queued payloads are emitted in FIFO order and never twice;
// evicted payloads are simply gone.
type PacingBuffer struct {
	interval time.Duration
	capacity int
	emit     func([]byte)
	onDrop   func()

	mu    sync.Mutex
	queue [][]byte

	ticker   *time.Ticker
	quit     chan struct{}
	stopOnce sync.Once
}

// PacingOption configures a [PacingBuffer].
type PacingOption func(*PacingBuffer)

// WithDropFunc registers a callback invoked (with no locks held) each time a
// payload is evicted under overflow. Used for drop accounting.
func WithDropFunc(fn func()) PacingOption {
	return func(pb *PacingBuffer) {
		pb.onDrop = fn
	}
}

// NewPacingBuffer creates a buffer that holds at most capacity payloads and
// emits one per interval via emit. Call [PacingBuffer.Start] to begin the
// timer and [PacingBuffer.Stop] to end it.
func NewPacingBuffer(interval time.Duration, capacity int, emit func([]byte), opts ...PacingOption) *PacingBuffer {
	pb := &PacingBuffer{
		interval: interval,
		capacity: capacity,
		emit:     emit,
		quit:     make(chan struct{}),
	}
	for _, o := range opts {
		o(pb)
	}
	return pb
}

// Start begins the periodic flush timer.
func (pb *PacingBuffer) Start() {
	pb.ticker = time.NewTicker(pb.interval)
	go func() {
		for {
			select {
			case <-pb.ticker.C:
				pb.flushOne()
			case <-pb.quit:
				pb.ticker.Stop()
				return
			}
		}
	}()
}

// Stop terminates the timer. No further emissions occur after Stop returns
// and the tick goroutine observes it. Safe to call more than once.
func (pb *PacingBuffer) Stop() {
	pb.stopOnce.Do(func() {
		close(pb.quit)
	})
}

// Add copies payload onto the queue tail. If the queue is at capacity the
// head (oldest payload) is evicted first.
func (pb *PacingBuffer) Add(payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)

	var dropped bool
	pb.mu.Lock()
	if len(pb.queue) >= pb.capacity {
		pb.queue = pb.queue[1:]
		dropped = true
	}
	pb.queue = append(pb.queue, cp)
	pb.mu.Unlock()

	if dropped && pb.onDrop != nil {
		pb.onDrop()
	}
}

// Len reports the number of payloads currently queued.
func (pb *PacingBuffer) Len() int {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return len(pb.queue)
}

// flushOne pops the oldest payload, if any, and emits it asynchronously so
// the emit callback cannot block the next tick.
func (pb *PacingBuffer) flushOne() {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if len(pb.queue) == 0 {
		return
	}
	payload := pb.queue[0]
	pb.queue = pb.queue[1:]
	go pb.emit(payload)
}
