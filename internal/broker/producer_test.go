package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	topic  string
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestProducer_PublishCreatesWriterPerTopic(t *testing.T) {
	writers := map[string]*fakeWriter{}
	p := NewProducerWithWriter(func(topic string) Writer {
		w := &fakeWriter{topic: topic}
		writers[topic] = w
		return w
	}, time.Second, nil)

	require.NoError(t, p.Publish(context.Background(), "events", "s-1", map[string]string{"a": "b"}))
	require.NoError(t, p.Publish(context.Background(), "events", "s-2", map[string]string{"c": "d"}))
	require.NoError(t, p.Publish(context.Background(), "reflections", "s-1", 42))

	require.Len(t, writers, 2)
	require.Len(t, writers["events"].msgs, 2)
	assert.Equal(t, "s-1", string(writers["events"].msgs[0].Key))

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(writers["events"].msgs[1].Value, &decoded))
	assert.Equal(t, "d", decoded["c"])

	require.NoError(t, p.Close())
	assert.True(t, writers["events"].closed)
	assert.ErrorIs(t, p.Publish(context.Background(), "events", "k", 1), ErrProducerClosed)
}

func TestProducer_PublishErrors(t *testing.T) {
	p := NewProducerWithWriter(func(string) Writer {
		return &fakeWriter{err: errors.New("leader not available")}
	}, time.Second, nil)

	err := p.Publish(context.Background(), "events", "k", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")

	err = p.Publish(context.Background(), "events", "k", make(chan int))
	assert.Error(t, err)
}
