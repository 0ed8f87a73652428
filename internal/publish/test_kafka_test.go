package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"controlroom/internal/snapshot"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func newFakePublisher() (*KafkaPublisher, *fakeWriter, *fakeWriter) {
	view, dlq := &fakeWriter{}, &fakeWriter{}
	return &KafkaPublisher{view: view, dlq: dlq}, view, dlq
}

func TestPublishViewWritesJSONExport(t *testing.T) {
	p, view, _ := newFakePublisher()
	v := &snapshot.ConsolidatedView{
		GeneratedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		PassID:      "pass-1",
		Entries: map[string]snapshot.Snapshot{
			"ops-cell-lite": {Project: "ops-cell-lite", Status: snapshot.StatusWarning},
		},
	}
	require.NoError(t, p.PublishView(context.Background(), v))
	require.Len(t, view.msgs, 1)

	msg := view.msgs[0]
	assert.Equal(t, viewKey, string(msg.Key))
	var doc map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &doc))
	assert.Equal(t, "pass-1", doc["passId"])
	assert.Equal(t, "warning", doc["overall"])
	assert.Contains(t, msg.Headers, kafka.Header{Key: "pass-id", Value: []byte("pass-1")})
}

func TestPublishRejectionsKeyedBySource(t *testing.T) {
	p, _, dlq := newFakePublisher()
	rejected := []snapshot.SchemaError{
		{Ref: snapshot.SourceRef{Key: "a/bad.json"}, Reason: "missing status", RawExcerpt: `{"project":"a"}`},
		{Ref: snapshot.SourceRef{Key: "b/bad.json"}, Reason: "truncated"},
	}
	require.NoError(t, p.PublishRejections(context.Background(), "pass-2", rejected))
	require.Len(t, dlq.msgs, 2)
	assert.Equal(t, "a/bad.json", string(dlq.msgs[0].Key))

	var r Rejection
	require.NoError(t, json.Unmarshal(dlq.msgs[0].Value, &r))
	assert.Equal(t, "pass-2", r.PassID)
	assert.Equal(t, "missing status", r.Reason)

	require.NoError(t, p.PublishRejections(context.Background(), "pass-3", nil))
	assert.Len(t, dlq.msgs, 2)
}

func TestPublishErrorsAreWrapped(t *testing.T) {
	p, view, _ := newFakePublisher()
	boom := errors.New("broker down")
	view.err = boom
	err := p.PublishView(context.Background(), snapshot.EmptyView(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestNewKafkaPublisherRequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{" ", ""}})
	assert.Error(t, err)

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	assert.Equal(t, DefaultViewTopic, p.view.(*kafka.Writer).Topic)
	assert.Equal(t, DefaultDLQTopic, p.dlq.(*kafka.Writer).Topic)
	require.NoError(t, p.Close())
}

func TestCloseClosesBothWriters(t *testing.T) {
	p, view, dlq := newFakePublisher()
	require.NoError(t, p.Close())
	assert.True(t, view.closed)
	assert.True(t, dlq.closed)
}
