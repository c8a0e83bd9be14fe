package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Func func(ctx context.Context) error

// Periodic runs a job on a fixed interval in its own goroutine.
type Periodic struct {
	name     string
	interval time.Duration
	fn       Func
	log      *zap.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewPeriodic(name string, interval time.Duration, fn Func, log *zap.Logger) *Periodic {
	return &Periodic{
		name:     name,
		interval: interval,
		fn:       fn,
		log:      log.Named("worker").With(zap.String("job", name)),
		done:     make(chan struct{}),
	}
}

func (p *Periodic) Name() string {
	return p.name
}

func (p *Periodic) Start() {
	p.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		go p.loop(ctx)
		p.log.Info("periodic job started", zap.Duration("interval", p.interval))
	})
}

// Stop cancels the job and waits for the current run to return. It is safe
// to call without Start.
func (p *Periodic) Stop() {
	p.stopOnce.Do(func() {
		// Burn startOnce so a late Start becomes a no-op.
		p.startOnce.Do(func() {})
		if p.cancel == nil {
			return
		}
		p.cancel()
		<-p.done
	})
}

func (p *Periodic) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.fn(ctx); err != nil && ctx.Err() == nil {
				p.log.Error("periodic job failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
