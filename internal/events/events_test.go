package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prativedak/internal/config"
	"prativedak/internal/model"
)

func TestStoreKeepsNewestWithinLimit(t *testing.T) {
	s := NewStore(3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		s.Add(model.Event{Type: model.EventCountdownTick, Timestamp: base.Add(time.Duration(i) * time.Second), Data: i})
	}
	all := s.List(0)
	require.Len(t, all, 3)
	assert.Equal(t, 2, all[0].Data)
	assert.Equal(t, 4, all[2].Data)

	last := s.List(1)
	require.Len(t, last, 1)
	assert.Equal(t, 4, last[0].Data)

	assert.Len(t, s.Since(base.Add(3*time.Second)), 2)
	s.Clear()
	assert.Empty(t, s.List(0))
}

func TestStoreFilters(t *testing.T) {
	s := NewStore(10)
	s.Add(model.Event{Type: model.EventDetection})
	s.Add(model.Event{Type: model.EventCountdownStarted, SessionID: "a"})
	s.Add(model.Event{Type: model.EventCountdownTick, SessionID: "a"})
	s.Add(model.Event{Type: model.EventCountdownStarted, SessionID: "b"})

	assert.Len(t, s.ListType(model.EventCountdownStarted, 0), 2)
	started := s.ListType(model.EventCountdownStarted, 1)
	require.Len(t, started, 1)
	assert.Equal(t, "b", started[0].SessionID)
	assert.Len(t, s.Session("a"), 2)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, model.Event) error { return errors.New("down") }

func TestFanoutDeliversDespiteFailures(t *testing.T) {
	s := NewStore(10)
	f := Fanout{failingPublisher{}, nil, s}
	err := f.Publish(context.Background(), model.Event{Type: model.EventDetection})
	require.Error(t, err)
	assert.Len(t, s.List(0), 1)
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := config.RedisConfig{Channel: "prativedak:events", ListKey: "prativedak:recent", ListLimit: 2}
	p := NewRedisPublisher(client, cfg)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Ping(ctx))

	sub := client.Subscribe(ctx, cfg.Channel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	for i, typ := range []model.EventType{model.EventCountdownStarted, model.EventCountdownTick, model.EventSequenceCompleted} {
		require.NoError(t, p.Publish(ctx, model.Event{Type: typ, SessionID: "s1", Timestamp: time.Unix(int64(i), 0).UTC()}))
	}

	list, err := mr.List(cfg.ListKey)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	recent, err := p.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, model.EventSequenceCompleted, recent[0].Type)
	assert.Equal(t, model.EventCountdownTick, recent[1].Type)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, `"countdown_started"`)
}
