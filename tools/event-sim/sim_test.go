package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/pawlink/libs/deadletter"
	"github.com/md-rashed-zaman/pawlink/libs/kafkax"
	"github.com/md-rashed-zaman/pawlink/libs/topology"
	"github.com/segmentio/kafka-go"
)

func TestBuildEnvelope(t *testing.T) {
	env, err := buildEnvelope("block.add", `{"blockId":"B1","blockerId":"U1","blockedId":"U2"}`, "fixed-id")
	if err != nil {
		t.Fatalf("buildEnvelope: %v", err)
	}
	if env.ID != "fixed-id" || env.Payload.EntityID() != "B1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if _, err := buildEnvelope("block.add", `{}`, ""); err == nil {
		t.Fatal("payload without an entity id must be rejected")
	}
	if _, err := buildEnvelope("pet.adopted", `{}`, ""); err == nil {
		t.Fatal("unknown type must be rejected")
	}
}

func TestRouteFollowsSubscriptions(t *testing.T) {
	cases := []struct {
		eventType, payload string
		want               []string
	}{
		{"user.registered", `{"userId":"U1","username":"rex","email":"r@x.io"}`,
			[]string{"user.registered.adoption", "user.registered.notification", "user.registered.social"}},
		{"block.add", `{"blockId":"B1","blockerId":"U1","blockedId":"U2"}`, []string{"block.add.adoption"}},
		{"notification.friend_request", `{"recipientId":"U2","type":"FRIEND_REQUEST"}`, []string{"notification.all.notification"}},
	}
	for _, tc := range cases {
		env, err := buildEnvelope(tc.eventType, tc.payload, "")
		if err != nil {
			t.Fatalf("%s: %v", tc.eventType, err)
		}
		got, err := Route(topology.Default(), env)
		if err != nil {
			t.Fatalf("%s: Route: %v", tc.eventType, err)
		}
		if strings.Join(got, ",") != strings.Join(tc.want, ",") {
			t.Errorf("%s routed to %v, want %v", tc.eventType, got, tc.want)
		}
	}
}

func TestTopologyPrintsRetryQueues(t *testing.T) {
	var out bytes.Buffer
	if err := runTopology([]string{"-service", "adoption"}, &out); err != nil {
		t.Fatalf("runTopology: %v", err)
	}
	for _, want := range []string{"service adoption", "block.add.adoption.retry <- block-retry"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestFormatDropped(t *testing.T) {
	value, err := deadletter.Marshal(deadletter.Record{
		ID: "d1", Queue: "block.add.adoption", EventType: "block.add", MessageID: "m1",
		Payload: []byte(`{"blockId":"B1"}`), Reason: deadletter.ReasonRetriesExhausted, DeathCount: 3,
		DroppedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	msg := kafka.Message{
		Key:     []byte("m1"),
		Value:   value,
		Headers: kafkax.EventMeta{EventID: "m1", EventType: "block.add", Queue: "block.add.adoption"}.Headers(),
	}
	line := formatDropped(msg)
	for _, want := range []string{"queue=block.add.adoption", "reason=retries_exhausted", "deaths=3", `payload={"blockId":"B1"}`} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
}
