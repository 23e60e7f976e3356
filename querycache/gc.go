package querycache

import "github.com/unkn0wn-root/querykit"

func (c *Client) cleanupLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

// sweep evicts unobserved, idle entries unused for their GCTime and
// settled mutations older than theirs.
func (c *Client) sweep() (queries, mutations int) {
	now := c.now()
	var removed []*query
	c.queries.Range(func(_ string, q *query) bool {
		// re-checked under the bucket lock; a concurrent acquire keeps q
		if c.evict(q, func(q *query) bool {
			q.mu.Lock()
			defer q.mu.Unlock()
			return len(q.observers) == 0 && q.flight == nil && now.Sub(q.lastUsed) >= q.gcTime
		}) {
			removed = append(removed, q)
		}
		return true
	})
	for _, q := range removed {
		c.hooks.QueryRemoved(q.key, "gc")
	}

	c.mutations.Range(func(id string, m *mutation) bool {
		m.mu.Lock()
		expired := !m.settledAt.IsZero() && now.Sub(m.settledAt) >= m.gcTime
		m.mu.Unlock()
		if expired {
			c.mutations.Delete(id)
			mutations++
		}
		return true
	})

	if len(removed) > 0 || mutations > 0 {
		c.log.Debug("querycache sweep", querykit.Fields{"queries": len(removed), "mutations": mutations})
		c.refreshCounters()
	}
	return len(removed), mutations
}
