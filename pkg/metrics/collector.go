package metrics

import (
	"context"
	"time"

	"github.com/jameshunt/clockwork/pkg/reportstore"
)

// Collector periodically samples the master's report store and publishes
// the results as gauges, independent of the per-request counters and
// histograms updated inline by the session server and fixup runner.
type Collector struct {
	store  *reportstore.SQLStore
	stopCh chan struct{}
}

// NewCollector creates a collector over a master report store.
func NewCollector(store *reportstore.SQLStore) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins periodic collection in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := c.store.CountHosts(ctx)
	if err != nil {
		return
	}
	HostsTotal.Set(float64(n))
}
