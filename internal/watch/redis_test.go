package watch

import (
	"io"
	"log/slog"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/dmoralesc/vigia/internal/model"
)

func newTestSource(t *testing.T, broker *Broker[model.Snapshot]) *RedisSource {
	t.Helper()
	s, err := NewRedisSource("redis://localhost:6379/0", broker, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewRedisSource: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisSourceRejectsBadURL(t *testing.T) {
	_, err := NewRedisSource("not a url", NewBroker[model.Snapshot](), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("expected error for malformed redis url")
	}
}

func TestDeliverRoutesByChannelSuffix(t *testing.T) {
	broker := NewBroker[model.Snapshot]()
	source := newTestSource(t, broker)

	sub := broker.Subscribe("job-1")
	defer sub.Unsubscribe()

	source.deliver(&redis.Message{
		Channel: DefaultChannelPrefix + "job-1",
		Payload: `{"status":"processing"}`,
	})

	select {
	case snap := <-sub.C:
		if snap.Status != model.StatusProcessing {
			t.Errorf("status = %q, want processing", snap.Status)
		}
	default:
		t.Fatal("snapshot not delivered")
	}
}

func TestDeliverDropsMalformedPayload(t *testing.T) {
	broker := NewBroker[model.Snapshot]()
	source := newTestSource(t, broker)

	sub := broker.Subscribe("job-1")
	defer sub.Unsubscribe()

	source.deliver(&redis.Message{
		Channel: DefaultChannelPrefix + "job-1",
		Payload: `not json`,
	})

	select {
	case snap := <-sub.C:
		t.Fatalf("unexpected delivery: %+v", snap)
	default:
	}
}
