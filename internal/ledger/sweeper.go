package ledger

import (
	"context"
	"time"

	"github.com/iotrace/iotrace/pkg/types"
	"github.com/iotrace/iotrace/pkg/utils"
)

// SweeperConfig configures ledger eviction. A zero TTL disables sweeping.
type SweeperConfig struct {
	TTL      time.Duration
	Interval time.Duration
}

// Sweeper evicts ledger entries whose start timestamp is older than TTL.
// Handlers never delete entries, so without a sweeper requests whose chain
// never completes stay in the ledger until it fills.
type Sweeper struct {
	ledger *Ledger
	config SweeperConfig
	logger *utils.StructuredLogger
}

// NewSweeper creates a sweeper for l.
func NewSweeper(l *Ledger, config SweeperConfig, logger *utils.StructuredLogger) *Sweeper {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if config.Interval <= 0 {
		config.Interval = 10 * time.Second
	}
	return &Sweeper{
		ledger: l,
		config: config,
		logger: logger.WithComponent("ledger-sweeper"),
	}
}

// Enabled reports whether the sweeper evicts anything.
func (s *Sweeper) Enabled() bool {
	return s.config.TTL > 0
}

// Sweep deletes expired entries from all three stores and returns how many
// were removed.
func (s *Sweeper) Sweep() int {
	if !s.Enabled() {
		return 0
	}

	now := s.ledger.Now()
	ttl := uint64(s.config.TTL.Nanoseconds())
	if now < ttl {
		return 0
	}
	cutoff := now - ttl

	removed := 0
	st := s.ledger.stores
	st.PendingByCaller.Range(func(caller types.CallerID, start uint64) bool {
		if start < cutoff && st.PendingByCaller.Delete(caller) == nil {
			removed++
		}
		return true
	})
	st.PendingByTask.Range(func(task types.TaskID, record TaskRecord) bool {
		if record.StartNs < cutoff && st.PendingByTask.Delete(task) == nil {
			removed++
		}
		return true
	})
	st.ReadyByCaller.Range(func(caller types.CallerID, start uint64) bool {
		if start < cutoff && st.ReadyByCaller.Delete(caller) == nil {
			removed++
		}
		return true
	})
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if !s.Enabled() {
		<-ctx.Done()
		return nil
	}

	s.logger.Info("Ledger sweeper started", map[string]interface{}{
		"ttl":      s.config.TTL.String(),
		"interval": s.config.Interval.String(),
	})

	ticker := s.ledger.clock.Ticker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				s.logger.Debug("Evicted stale ledger entries", map[string]interface{}{
					"removed": removed,
				})
			}
		}
	}
}
