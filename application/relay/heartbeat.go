package relay

import (
	"sync"
	"sync/atomic"
	"time"
)

var activeHeartbeats atomic.Int64

// ActiveHeartbeats reports how many heartbeat tickers are currently running
// across all relays in the process.
func ActiveHeartbeats() int64 {
	return activeHeartbeats.Load()
}

// heartbeat is a ticker owned by exactly one relay run. A non-positive
// interval yields a heartbeat that never fires.
type heartbeat struct {
	ticker *time.Ticker
	once   sync.Once
}

func startHeartbeat(interval time.Duration) *heartbeat {
	hb := &heartbeat{}
	if interval > 0 {
		hb.ticker = time.NewTicker(interval)
		activeHeartbeats.Add(1)
	}
	return hb
}

func (h *heartbeat) C() <-chan time.Time {
	if h.ticker == nil {
		return nil
	}
	return h.ticker.C
}

// stop is idempotent.
func (h *heartbeat) stop() {
	h.once.Do(func() {
		if h.ticker != nil {
			h.ticker.Stop()
			activeHeartbeats.Add(-1)
		}
	})
}
