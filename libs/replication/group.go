package replication

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/pawlink/libs/deadletter"
	"github.com/md-rashed-zaman/pawlink/libs/topology"
	"golang.org/x/sync/errgroup"
)

// Group runs one consumer per subscription of a service, each on its own channel.
type Group struct {
	consumers []*Consumer
	channels  []Channel
}

// NewGroup opens a channel per subscription. It fails before opening anything
// when a subscription has no handler.
func NewGroup(plan topology.Plan, open func() (Channel, error), registry *Registry, sink deadletter.Sink, logger *slog.Logger, opts Options) (*Group, error) {
	if err := registry.Check(plan); err != nil {
		return nil, err
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = plan.Retry.MaxRetries
	}

	g := &Group{}
	for _, sub := range plan.Subscriptions {
		ch, err := open()
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("open channel for %s: %w", sub.Queue, err)
		}
		g.channels = append(g.channels, ch)
		g.consumers = append(g.consumers, NewConsumer(ch, sub, registry, sink, logger, opts))
	}
	return g, nil
}

func (g *Group) Consumers() []*Consumer { return g.consumers }

// Run blocks until ctx is done or a consumer fails, which stops the others.
func (g *Group) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, c := range g.consumers {
		eg.Go(func() error {
			return c.Run(ctx)
		})
	}
	err := eg.Wait()
	g.Close()
	return err
}

func (g *Group) Close() {
	for _, ch := range g.channels {
		_ = ch.Close()
	}
	g.channels = nil
}
