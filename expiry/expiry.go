// Package expiry is the Expiry Sweeper (C9): a background ticker that
// periodically deletes events past their `expires_at` tag, grounded on the
// teacher's `database.New` lifecycle goroutine (select on a context and a
// timer, `database/database.go`) generalized from a one-shot shutdown hook
// into a repeating sweep.
package expiry

import (
	"time"

	"fitrelay.dev/context"
	"fitrelay.dev/log"
	"fitrelay.dev/store"
)

// Sweeper runs DeleteIfExpired on an interval until its context is done.
type Sweeper struct {
	db       *store.D
	interval time.Duration
}

// New returns a Sweeper that checks for expired events every interval.
func New(db *store.D, interval time.Duration) *Sweeper {
	return &Sweeper{db: db, interval: interval}
}

// Run blocks, sweeping on every tick, until ctx is done. Call it in its own
// goroutine.
func (s *Sweeper) Run(ctx context.T) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	n, err := s.db.DeleteIfExpired(time.Now())
	if err != nil {
		log.E.F("expiry sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.D.F("expiry sweep removed %d event(s)", n)
	}
}
