package audit

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/vendorpulse/pkg/models"
)

type fakePublisher struct {
	topics []string
	keys   []string
	events []DecisionEvent
	err    error
}

func (f *fakePublisher) PublishEvent(ctx context.Context, topic string, key string, event interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	f.keys = append(f.keys, key)
	f.events = append(f.events, event.(DecisionEvent))
	return nil
}

func TestPublishFillsIdentityAndKeysByOrder(t *testing.T) {
	sink := &fakePublisher{}
	p := NewEventPublisher([]Publisher{sink}, "", nil)

	err := p.Publish(context.Background(), DecisionEvent{
		VendorID: "v1",
		OrderID:  "X1",
		Kind:     models.OrderKindRehearsal,
		Action:   "confirm",
		Outcome:  "confirmed",
	})
	require.NoError(t, err)

	require.Len(t, sink.events, 1)
	assert.Equal(t, DefaultTopic, sink.topics[0])
	assert.Equal(t, "X1", sink.keys[0])
	assert.NotEqual(t, uuid.Nil, sink.events[0].ID)
	assert.False(t, sink.events[0].Timestamp.IsZero())
}

func TestPublishFailsOnlyWhenEverySinkFails(t *testing.T) {
	ok := &fakePublisher{}
	broken := &fakePublisher{err: fmt.Errorf("broker down")}

	p := NewEventPublisher([]Publisher{broken, ok}, "decisions", nil)
	require.NoError(t, p.Publish(context.Background(), DecisionEvent{OrderID: "X1"}))
	assert.Len(t, ok.events, 1)

	p = NewEventPublisher([]Publisher{broken}, "decisions", nil)
	err := p.Publish(context.Background(), DecisionEvent{OrderID: "X1"})
	assert.ErrorContains(t, err, "broker down")

	assert.NoError(t, NewEventPublisher(nil, "", nil).Publish(context.Background(), DecisionEvent{OrderID: "X1"}))
	assert.Error(t, p.Publish(context.Background(), DecisionEvent{}))
}

func TestRedisPublisherAppendsToStream(t *testing.T) {
	addr := os.Getenv("VENDORPULSE_TEST_REDIS")
	if addr == "" {
		t.Skip("VENDORPULSE_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream := "vendorpulse.test." + uuid.NewString()
	defer client.Del(ctx, stream)

	pub := NewRedisPublisher(client, 100, nil)
	require.NoError(t, pub.PublishEvent(ctx, stream, "X1", DecisionEvent{OrderID: "X1", Action: "reject"}))

	entries, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "X1", entries[0].Values["key"])
	assert.Contains(t, entries[0].Values["data"], `"action":"reject"`)
}
