// event-sim publishes replication events by hand and inspects the pieces
// around them.
//
//	event-sim publish -type block.add -payload '{"blockId":"B1","blockerId":"U1","blockedId":"U2"}'
//	event-sim route -type notification.friend_request -payload '{"recipientId":"U2"}'
//	event-sim topology -service notification
//	event-sim probe -addr localhost:9095 -service notification-service
//	event-sim tail-dropped -brokers localhost:9092
package main

import (
	"fmt"
	"os"
	"strings"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "publish":
		err = runPublish(os.Args[2:])
	case "route":
		err = runRoute(os.Args[2:], os.Stdout)
	case "topology":
		err = runTopology(os.Args[2:], os.Stdout)
	case "probe":
		err = runProbe(os.Args[2:])
	case "tail-dropped":
		err = runTailDropped(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fatal(err.Error())
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: event-sim publish|route|topology|probe|tail-dropped [flags]")
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
