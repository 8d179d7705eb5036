// Package audit records mutating actions after the fact. Writes are
// best-effort by contract: a failed or dropped audit entry is logged, never
// surfaced to the operation that triggered it.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/shepherd-cms/identity/internal/repository"
)

// Store persists entries. Implemented by repository.AuditRepository.
type Store interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
}

const (
	defaultBufferSize = 256
	appendTimeout     = 5 * time.Second
)

// Dispatcher moves audit entries off the request path through a buffered
// channel and a single worker goroutine. Record never blocks: when the
// buffer is full the entry is counted as dropped instead.
type Dispatcher struct {
	store     Store
	log       zerolog.Logger
	ch        chan *repository.AuditEntry
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closeOnce sync.Once
}

// NewDispatcher starts the worker goroutine. bufferSize <= 0 selects the
// default.
func NewDispatcher(store Store, bufferSize int, log zerolog.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	d := &Dispatcher{
		store: store,
		log:   log,
		ch:    make(chan *repository.AuditEntry, bufferSize),
		done:  make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case entry := <-d.ch:
			d.append(entry)
		case <-d.done:
			// Drain whatever is buffered before exiting.
			for {
				select {
				case entry := <-d.ch:
					d.append(entry)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) append(entry *repository.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	if err := d.store.Append(ctx, entry); err != nil {
		d.log.Error().Err(err).Str("action", entry.Action).Msg("Audit write failed")
	}
}

// Record enqueues an entry. Entries with no occurred-at are stamped here.
func (d *Dispatcher) Record(entry *repository.AuditEntry) {
	if d == nil {
		return
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	select {
	case d.ch <- entry:
	case <-d.done:
	default:
		d.dropped.Add(1)
	}
}

// Dropped reports how many entries were discarded due to a full buffer.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close drains the buffer and stops the worker.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.wg.Wait()
	})
}
