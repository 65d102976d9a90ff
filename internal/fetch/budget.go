package fetch

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrRequestLimitExceeded is returned once a run has spent its request budget
var ErrRequestLimitExceeded = errors.New("request limit exceeded")

// DefaultRequestLimit is the per-run budget used when none is configured
const DefaultRequestLimit = 35

// Budget is a hard ceiling on outbound requests for one sync run.
// It lives in memory only, so every run starts with a fresh allowance.
type Budget struct {
	limit int64
	used  atomic.Int64
}

// NewBudget creates a budget allowing limit requests
func NewBudget(limit int) *Budget {
	if limit <= 0 {
		limit = DefaultRequestLimit
	}
	return &Budget{limit: int64(limit)}
}

// Acquire charges one request. It never lets the number of charged requests
// pass the limit, even when called from several goroutines.
func (b *Budget) Acquire() error {
	for {
		used := b.used.Load()
		if used >= b.limit {
			return fmt.Errorf("%w: %d of %d requests used", ErrRequestLimitExceeded, used, b.limit)
		}
		if b.used.CompareAndSwap(used, used+1) {
			return nil
		}
	}
}

// Used returns how many requests were charged
func (b *Budget) Used() int {
	return int(b.used.Load())
}

// Remaining returns how many requests may still be issued
func (b *Budget) Remaining() int {
	return int(b.limit - b.used.Load())
}

// Limit returns the configured ceiling
func (b *Budget) Limit() int {
	return int(b.limit)
}

// Exhausted reports whether no request may be issued anymore
func (b *Budget) Exhausted() bool {
	return b.Remaining() <= 0
}
