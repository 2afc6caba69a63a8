package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/md-rashed-zaman/pawlink/libs/deadletter"
	"github.com/md-rashed-zaman/pawlink/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

func runTailDropped(args []string) error {
	fs := flag.NewFlagSet("tail-dropped", flag.ExitOnError)
	var (
		brokers = fs.String("brokers", getenv("DEADLETTER_KAFKA_BROKERS", "localhost:9092"), "comma separated kafka brokers")
		topic   = fs.String("topic", getenv("DEADLETTER_KAFKA_TOPIC", "pawlink.dropped-events"), "dead-letter topic")
		group   = fs.String("group", "", "consumer group; empty reads partition 0 from the start")
	)
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := kafka.ReaderConfig{Brokers: kafkax.SplitBrokers(*brokers), Topic: *topic, GroupID: *group}
	r := kafka.NewReader(cfg)
	defer r.Close()

	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		fmt.Println(formatDropped(msg))
	}
}

func formatDropped(msg kafka.Message) string {
	meta := kafkax.ExtractEventMeta(msg)
	rec, err := deadletter.Unmarshal(msg.Value)
	if err != nil {
		return fmt.Sprintf("offset=%d id=%s undecodable value: %v", msg.Offset, meta.EventID, err)
	}
	return fmt.Sprintf("offset=%d queue=%s type=%s id=%s reason=%s deaths=%d err=%q payload=%s",
		msg.Offset, meta.Queue, rec.EventType, meta.EventID, rec.Reason, rec.DeathCount, rec.Error, rec.Payload)
}
