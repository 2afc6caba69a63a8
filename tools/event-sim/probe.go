package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/pawlink/libs/grpcx"
)

func runProbe(args []string) error {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	var (
		addr    = fs.String("addr", "localhost:9095", "gRPC address")
		service = fs.String("service", "", "health service name; empty asks for the server as a whole")
		timeout = fs.Duration("timeout", 3*time.Second, "probe timeout")
	)
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	status, err := grpcx.Probe(ctx, *addr, *service)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", *addr, status)
	return nil
}
