package platform

import (
	"testing"
	"time"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/social")
	t.Setenv("REPLICATION_RETRY_TTL", "30s")
	t.Setenv("DEADLETTER_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")

	cfg, err := ConfigFromEnv("social-service", "social", "8082", "9092")
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.Topology != "social" || cfg.Port != "8082" || cfg.GRPCPort != "9092" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.RetryTTL != 30*time.Second {
		t.Fatalf("retry ttl = %s", cfg.RetryTTL)
	}
	if cfg.MaxRetries != -1 {
		t.Fatalf("unset max retries must keep the topology default, got %d", cfg.MaxRetries)
	}
	if len(cfg.DeadLetterBrokers) != 2 {
		t.Fatalf("brokers = %v", cfg.DeadLetterBrokers)
	}
}

func TestConfigFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/social")
	for key, value := range map[string]string{
		"CONSUMER_PREFETCH":     "0",
		"OUTBOX_POLL_EVERY":     "soon",
		"REPLICATION_RETRY_TTL": "ten",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := ConfigFromEnv("social-service", "social", "8082", "9092"); err == nil {
				t.Fatalf("%s=%s accepted", key, value)
			}
		})
	}
}

func TestConfigRequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := ConfigFromEnv("social-service", "social", "8082", "9092"); err == nil {
		t.Fatal("missing DATABASE_URL accepted")
	}
}
