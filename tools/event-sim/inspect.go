package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/md-rashed-zaman/pawlink/libs/amqpx/amqpmem"
	"github.com/md-rashed-zaman/pawlink/libs/events"
	"github.com/md-rashed-zaman/pawlink/libs/outbox"
	"github.com/md-rashed-zaman/pawlink/libs/topology"
)

func runTopology(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("topology", flag.ExitOnError)
	var (
		topoFile = fs.String("topology-file", getenv("TOPOLOGY_FILE", ""), "topology document; empty uses the built-in one")
		service  = fs.String("service", "", "service to plan; empty prints every service")
	)
	_ = fs.Parse(args)

	spec, err := topology.LoadOrDefault(*topoFile)
	if err != nil {
		return err
	}
	services := spec.Services()
	if *service != "" {
		services = []string{*service}
	}
	for _, svc := range services {
		plan, err := topology.Build(spec, svc)
		if err != nil {
			return err
		}
		printPlan(out, plan)
	}
	return nil
}

func printPlan(out io.Writer, plan topology.Plan) {
	fmt.Fprintf(out, "service %s (retry ttl=%s max=%d)\n", plan.Service, plan.Retry.MessageTTL, plan.Retry.MaxRetries)
	for _, sub := range plan.Subscriptions {
		fmt.Fprintf(out, "  %-28s %s <- %s\n", sub.Pattern, sub.Queue, sub.Family)
		fmt.Fprintf(out, "  %-28s %s <- %s (%s)\n", "", sub.RetryQueue, sub.Family.RetryExchange(), sub.RetryKey)
	}
}

// Route publishes env into an in-memory broker carrying every service's
// topology and returns the primary queues that received it.
func Route(spec topology.Spec, env events.Envelope) ([]string, error) {
	b := amqpmem.New()
	var queues []string
	for _, svc := range spec.Services() {
		plan, err := topology.Build(spec, svc)
		if err != nil {
			return nil, err
		}
		if err := topology.Declare(b.Channel(), plan); err != nil {
			return nil, err
		}
		for _, sub := range plan.Subscriptions {
			queues = append(queues, sub.Queue)
		}
	}

	pub := outbox.NewPublisher(b.Channel(), slog.New(slog.NewTextHandler(io.Discard, nil)), "event-sim")
	if err := pub.PublishNow(context.Background(), env); err != nil {
		return nil, err
	}

	var hit []string
	for _, q := range queues {
		if b.Depth(q) > 0 {
			hit = append(hit, q)
		}
	}
	sort.Strings(hit)
	return hit, nil
}

func runRoute(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("route", flag.ExitOnError)
	var (
		topoFile  = fs.String("topology-file", getenv("TOPOLOGY_FILE", ""), "topology document; empty uses the built-in one")
		eventType = fs.String("type", "", "event type")
		payload   = fs.String("payload", "{}", "JSON payload")
	)
	_ = fs.Parse(args)

	env, err := buildEnvelope(*eventType, *payload, "")
	if err != nil {
		return err
	}
	spec, err := topology.LoadOrDefault(*topoFile)
	if err != nil {
		return err
	}
	queues, err := Route(spec, env)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s via exchange %s\n", env.Type, env.Family())
	if len(queues) == 0 {
		fmt.Fprintln(out, "  no subscribers")
	}
	for _, q := range queues {
		fmt.Fprintf(out, "  -> %s\n", q)
	}
	return nil
}
