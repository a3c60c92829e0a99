package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/zsiec/playcore/internal/logger"
	"github.com/zsiec/playcore/internal/message"
)

var (
	// ErrNotInitialized indicates Init has not been called or End was called
	ErrNotInitialized = errors.New("queue not initialized")

	// ErrAborted indicates the queue was aborted
	ErrAborted = errors.New("queue aborted")

	// ErrInvalidMessage indicates a nil message was put
	ErrInvalidMessage = errors.New("invalid message")

	// ErrTimeout indicates no message arrived, or no room was made, in time
	ErrTimeout = errors.New("queue timeout")
)

const (
	// DefaultTimeTarget is the buffered duration that counts as a full queue.
	DefaultTimeTarget = 4 * time.Second

	// DefaultPutTimeout bounds how long a data producer waits for room.
	DefaultPutTimeout = 10 * time.Second
)

type entry struct {
	msg      message.Message
	priority int
	control  bool
	seq      uint64
}

// before reports whether e must be delivered ahead of o.
func (e entry) before(o entry) bool {
	if e.control != o.control {
		return e.control
	}
	if e.priority != o.priority {
		return e.priority > o.priority
	}
	return e.seq < o.seq
}

// Queue is a bounded, priority ordered message queue feeding one stream
// consumer. Data packets are accounted by size and by the time span between
// the oldest and newest buffered timestamps.
type Queue struct {
	name   string
	logger logger.Logger

	mu      sync.Mutex
	items   []entry
	seq     uint64
	changed chan struct{}
	abortCh chan struct{}

	dataSize    int
	maxDataSize int
	timeTarget  time.Duration
	putTimeout  time.Duration
	timeFront   time.Duration
	timeBack    time.Duration

	initialized bool
	aborted     bool
	emptied     bool
}

// New creates a queue holding up to maxDataSize bytes of packet data.
func New(name string, maxDataSize int, log logger.Logger) *Queue {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Queue{
		name:        name,
		logger:      log.WithField("queue", name),
		changed:     make(chan struct{}),
		abortCh:     make(chan struct{}),
		maxDataSize: maxDataSize,
		timeTarget:  DefaultTimeTarget,
		putTimeout:  DefaultPutTimeout,
		timeFront:   message.NoPTS,
		timeBack:    message.NoPTS,
		emptied:     true,
	}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// SetTimeTarget sets the buffered duration that corresponds to a 100% level.
func (q *Queue) SetTimeTarget(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if d > 0 {
		q.timeTarget = d
	}
}

// SetPutTimeout bounds how long Put blocks a data producer.
func (q *Queue) SetPutTimeout(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.putTimeout = d
}

// SetMaxDataSize changes the byte capacity.
func (q *Queue) SetMaxDataSize(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxDataSize = n
	q.notifyLocked()
}

// MaxDataSize returns the byte capacity.
func (q *Queue) MaxDataSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxDataSize
}

// Init prepares the queue for use and clears any previous abort.
func (q *Queue) Init() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = nil
	q.dataSize = 0
	q.timeFront = message.NoPTS
	q.timeBack = message.NoPTS
	if q.aborted {
		q.abortCh = make(chan struct{})
	}
	q.aborted = false
	q.emptied = true
	q.initialized = true
	q.notifyLocked()
	updateQueueMetrics(q.name, 0, 0)
}

// End flushes everything and marks the queue uninitialized.
func (q *Queue) End() {
	q.Flush(message.KindNone)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.initialized = false
	q.notifyLocked()
}

// Abort wakes every waiter. Subsequent Get and Put calls fail with
// ErrAborted until Init is called again.
func (q *Queue) Abort() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.aborted {
		close(q.abortCh)
	}
	q.aborted = true
	q.notifyLocked()
}

// Aborted returns a channel closed by Abort. Init hands out a new one.
func (q *Queue) Aborted() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.abortCh
}

// IsAborted reports whether Abort was called since the last Init.
func (q *Queue) IsAborted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.aborted
}

// IsInitialized reports whether the queue accepts messages.
func (q *Queue) IsInitialized() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.initialized
}

// Put inserts msg. Control messages are queued ahead of data, higher
// priorities ahead of lower ones, equal keys in arrival order. A packet
// that does not fit blocks the caller until room is made, the queue is
// aborted, or the put timeout expires.
func (q *Queue) Put(msg message.Message, priority int) error {
	if msg == nil {
		return ErrInvalidMessage
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.initialized {
		return ErrNotInitialized
	}
	if q.aborted {
		return ErrAborted
	}

	control := message.IsControl(msg)
	size := 0
	if pkt, ok := msg.(*message.Packet); ok {
		size = pkt.Size()
	}

	if !control && size > 0 {
		if err := q.waitForRoomLocked(size); err != nil {
			q.logger.WithField("size", size).Debug("Put timed out waiting for room")
			return err
		}
	}

	e := entry{msg: msg, priority: priority, control: control, seq: q.seq}
	q.seq++

	i := sort.Search(len(q.items), func(i int) bool {
		return e.before(q.items[i])
	})
	q.items = append(q.items, entry{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = e

	if pkt, ok := msg.(*message.Packet); ok {
		q.dataSize += size
		if ts := pkt.Timestamp(); ts != message.NoPTS {
			if q.timeFront == message.NoPTS || ts > q.timeFront {
				q.timeFront = ts
			}
			if q.timeBack == message.NoPTS {
				q.timeBack = ts
			}
		}
		q.emptied = false
	}

	q.notifyLocked()
	updateQueueMetrics(q.name, q.dataSize, q.levelLocked())
	return nil
}

// waitForRoomLocked blocks until size more bytes fit. A queue holding no
// data always admits the packet so oversized packets cannot wedge it.
func (q *Queue) waitForRoomLocked(size int) error {
	if q.fitsLocked(size) {
		return nil
	}

	var deadline <-chan time.Time
	if q.putTimeout > 0 {
		timer := time.NewTimer(q.putTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for !q.fitsLocked(size) {
		changed := q.changed
		q.mu.Unlock()
		select {
		case <-changed:
		case <-deadline:
			q.mu.Lock()
			if q.fitsLocked(size) {
				return nil
			}
			return ErrTimeout
		}
		q.mu.Lock()

		if q.aborted {
			return ErrAborted
		}
		if !q.initialized {
			return ErrNotInitialized
		}
	}
	return nil
}

func (q *Queue) fitsLocked(size int) bool {
	return q.maxDataSize <= 0 || q.dataSize == 0 || q.dataSize+size <= q.maxDataSize
}

// Get removes and returns the most urgent message, waiting up to timeout.
// A timeout of zero or less polls once.
func (q *Queue) Get(timeout time.Duration) (message.Message, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var deadline <-chan time.Time
	for {
		if q.aborted {
			return nil, 0, ErrAborted
		}
		if !q.initialized {
			return nil, 0, ErrNotInitialized
		}
		if len(q.items) > 0 {
			break
		}

		q.emptied = true
		if timeout <= 0 {
			return nil, 0, ErrTimeout
		}
		if deadline == nil {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			deadline = timer.C
		}

		changed := q.changed
		q.mu.Unlock()
		select {
		case <-changed:
			q.mu.Lock()
		case <-deadline:
			q.mu.Lock()
			if len(q.items) == 0 || q.aborted || !q.initialized {
				if q.aborted {
					return nil, 0, ErrAborted
				}
				if !q.initialized {
					return nil, 0, ErrNotInitialized
				}
				return nil, 0, ErrTimeout
			}
		}
	}

	e := q.popLocked()
	return e.msg, e.priority, nil
}

// GetControl is Get restricted to control messages. Data at the head of the
// queue is left in place and reported as a timeout. Paused consumers use it
// so they keep reacting to commands without consuming packets.
func (q *Queue) GetControl(timeout time.Duration) (message.Message, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var deadline <-chan time.Time
	for {
		if q.aborted {
			return nil, 0, ErrAborted
		}
		if !q.initialized {
			return nil, 0, ErrNotInitialized
		}
		if len(q.items) > 0 && q.items[0].control {
			break
		}
		if timeout <= 0 {
			return nil, 0, ErrTimeout
		}
		if deadline == nil {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			deadline = timer.C
		}

		changed := q.changed
		q.mu.Unlock()
		select {
		case <-changed:
			q.mu.Lock()
		case <-deadline:
			q.mu.Lock()
			if q.aborted {
				return nil, 0, ErrAborted
			}
			if !q.initialized {
				return nil, 0, ErrNotInitialized
			}
			if len(q.items) == 0 || !q.items[0].control {
				return nil, 0, ErrTimeout
			}
		}
	}

	e := q.popLocked()
	return e.msg, e.priority, nil
}

// HasControl reports whether a control message is waiting.
func (q *Queue) HasControl() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) > 0 && q.items[0].control
}

func (q *Queue) popLocked() entry {
	e := q.items[0]
	q.items[0] = entry{}
	q.items = q.items[1:]

	if pkt, ok := e.msg.(*message.Packet); ok {
		q.dataSize -= pkt.Size()
		if q.dataSize < 0 {
			q.dataSize = 0
		}
		if ts := pkt.Timestamp(); ts != message.NoPTS {
			q.timeBack = ts
		}
	}

	q.notifyLocked()
	updateQueueMetrics(q.name, q.dataSize, q.levelLocked())
	return e
}

// Flush removes every message of the given kind, or everything for
// message.KindNone. Flushing packets resets size and time accounting.
func (q *Queue) Flush(kind message.Kind) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	for _, e := range q.items {
		if kind == message.KindNone || e.msg.Kind() == kind {
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = entry{}
	}
	q.items = kept

	if kind == message.KindPacket || kind == message.KindNone {
		q.dataSize = 0
		q.timeFront = message.NoPTS
		q.timeBack = message.NoPTS
		q.emptied = true
	}

	q.notifyLocked()
	updateQueueMetrics(q.name, q.dataSize, q.levelLocked())
}

// Level returns the fill level in percent. It is the larger of the byte
// fill and the buffered time span relative to the time target.
func (q *Queue) Level() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.levelLocked()
}

func (q *Queue) levelLocked() int {
	if q.dataSize == 0 {
		return 0
	}
	if q.maxDataSize > 0 && q.dataSize > q.maxDataSize {
		return 100
	}

	byteLevel := 0
	if q.maxDataSize > 0 {
		byteLevel = min(100*q.dataSize/q.maxDataSize, 100)
	}

	timeLevel := 0
	if q.timeFront != message.NoPTS && q.timeBack != message.NoPTS && q.timeTarget > 0 {
		if span := q.timeFront - q.timeBack; span > 0 {
			timeLevel = int(min(100*span/q.timeTarget, 100))
		}
	}

	return max(byteLevel, timeLevel)
}

// DataSize returns the buffered packet bytes.
func (q *Queue) DataSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dataSize
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// PacketCount returns the number of queued messages of the given kind, or
// all messages for message.KindNone.
func (q *Queue) PacketCount(kind message.Kind) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if kind == message.KindNone {
		return len(q.items)
	}
	n := 0
	for _, e := range q.items {
		if e.msg.Kind() == kind {
			n++
		}
	}
	return n
}

// IsEmptied reports whether the queue ran dry, or was flushed, since the
// last packet was put.
func (q *Queue) IsEmptied() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.emptied
}

// WaitUntilEmpty blocks until every queued message has been taken by the
// consumer, ctx ends, or the queue is aborted.
func (q *Queue) WaitUntilEmpty(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) > 0 {
		if q.aborted {
			return ErrAborted
		}
		if !q.initialized {
			return ErrNotInitialized
		}

		changed := q.changed
		q.mu.Unlock()
		select {
		case <-changed:
			q.mu.Lock()
		case <-ctx.Done():
			q.mu.Lock()
			return ctx.Err()
		}
	}
	return nil
}

// notifyLocked wakes every goroutine waiting on the current generation.
func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
