// Package progress streams coordinator state transitions to interested
// consumers. Reporting is best effort: a slow consumer loses updates rather
// than stalling the pipeline.
package progress

import "sync"

type State string

const (
	StateLockRequired     State = "LockRequired"
	StateAuthorizing      State = "Authorizing"
	StateSubmitting       State = "Submitting"
	StatePreparing        State = "Preparing"
	StateExecuting        State = "Executing"
	StateAwaitingFinality State = "AwaitingFinality"
	StateEstablished      State = "Established"
	StateRejected         State = "Rejected"
	StateSettled          State = "Settled"
	StateFailed           State = "Failed"
)

type (
	Update struct {
		State   State
		Message string
		TxRef   string
	}

	// Reporter fans a coordinator's transitions out to one subscriber
	// channel. The zero value is not usable, construct with NewReporter.
	Reporter struct {
		mu     sync.Mutex
		ch     chan Update
		closed bool
	}
)

func NewReporter(buffer int) *Reporter {
	if buffer < 1 {
		buffer = 16
	}
	return &Reporter{ch: make(chan Update, buffer)}
}

// Publish never blocks: when the subscriber lags behind the update is
// dropped.
func (r *Reporter) Publish(update Update) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- update:
	default:
	}
}

func (r *Reporter) Updates() <-chan Update {
	return r.ch
}

func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
}
