package db

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"slugbin/pkg/domain"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

// breaker trips after maxFailures consecutive backend errors and lets a
// single probe through once the cooldown has passed.
type breaker struct {
	failures      int32
	circuitState  int32
	circuitOpened int64
}

func (b *breaker) check() error {
	switch atomic.LoadInt32(&b.circuitState) {
	case circuitOpen:
		opened := atomic.LoadInt64(&b.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&b.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (b *breaker) record(err error) {
	if err == nil {
		atomic.StoreInt32(&b.failures, 0)
		atomic.StoreInt32(&b.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, domain.ErrSlugTaken) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&b.failures, 1)
	if atomic.LoadInt32(&b.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&b.circuitState, circuitOpen)
		atomic.StoreInt64(&b.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&b.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&b.circuitState) == circuitClosed {
		atomic.StoreInt32(&b.circuitState, circuitOpen)
		atomic.StoreInt64(&b.circuitOpened, time.Now().Unix())
	}
}
