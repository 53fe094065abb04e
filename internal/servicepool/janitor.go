package servicepool

import (
	"context"
	"time"
)

// StartSweeper launches background idle reclamation. Every sweep interval,
// instances unused for longer than the service timeout are force-removed,
// windows and all. Starting twice is a no-op.
func (p *Pool) StartSweeper(ctx context.Context) {
	p.mu.Lock()
	if p.sweepStop != nil || p.closed {
		p.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	p.sweepStop = stop
	p.sweepDone = done
	p.mu.Unlock()

	go func() {
		defer close(done)

		ticker := time.NewTicker(p.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				p.sweep()
			}
		}
	}()

	p.logger.Debug("idle sweeper started",
		"interval", p.cfg.SweepInterval,
		"serviceTimeout", p.cfg.ServiceTimeout)
}

// StopSweeper stops background reclamation and waits for the sweep
// goroutine to exit
func (p *Pool) StopSweeper() {
	p.mu.Lock()
	stop := p.sweepStop
	done := p.sweepDone
	p.sweepStop = nil
	p.sweepDone = nil
	p.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// sweep evicts every instance idle past the service timeout
func (p *Pool) sweep() {
	now := time.Now()

	p.mu.Lock()
	var stale []string
	for _, sid := range p.order {
		if now.Sub(p.services[sid].lastUsed) > p.cfg.ServiceTimeout {
			stale = append(stale, sid)
		}
	}
	p.mu.Unlock()

	for _, sid := range stale {
		p.logger.Warn("service idle past timeout, reclaiming",
			"service", sid,
			"serviceTimeout", p.cfg.ServiceTimeout)
		p.EvictInstance(sid)
	}
}
