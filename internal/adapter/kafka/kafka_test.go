package kafka

import (
	"encoding/json"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
)

func TestMapMessageToRawEvent(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("device-1"),
		Value:     []byte(`{"action":"enter"}`),
		Topic:     "location-triggers",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte("point-sdk")},
		},
	}

	raw := mapMessageToRawEvent(msg)

	assert.Equal(t, []byte("device-1"), raw.Key)
	assert.JSONEq(t, `{"action":"enter"}`, string(raw.Value))
	assert.Equal(t, "location-triggers", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "point-sdk", raw.Headers["source"])
	assert.Nil(t, raw.Commit)
}

func TestSerializeToMessage(t *testing.T) {
	at := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)
	u := domain.TagUpdate{
		ChannelID:  "channel-1",
		Source:     domain.TriggerKey{Kind: domain.KindFence, SourceID: "F1"},
		InstanceID: "inst-1",
		Add:        []string{"fence_f1", "zone_stadium"},
		At:         at,
	}

	msg, err := serializeToMessage(u)
	require.NoError(t, err)

	assert.Equal(t, []byte("channel-1"), msg.Key)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "at", msg.Headers[0].Key)
	assert.Equal(t, []byte(at.Format(time.RFC3339)), msg.Headers[0].Value)
	assert.Equal(t, "source", msg.Headers[1].Key)
	assert.Equal(t, []byte("fence:F1"), msg.Headers[1].Value)

	var decoded domain.TagUpdate
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, u.Add, decoded.Add)
	assert.Empty(t, decoded.Remove)
	assert.Equal(t, "inst-1", decoded.InstanceID)
}
