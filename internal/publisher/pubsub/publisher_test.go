package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageSetsEventType(t *testing.T) {
	t.Parallel()

	msg, err := newMessage("snapshot.recorded", map[string]int{"level": 7})
	require.NoError(t, err)
	assert.JSONEq(t, `{"level":7}`, string(msg.Data))
	assert.Equal(t, "snapshot.recorded", msg.Attributes[EventTypeAttribute])
}

func TestNewMessageRejectsUnmarshalable(t *testing.T) {
	t.Parallel()

	_, err := newMessage("x", make(chan int))
	require.Error(t, err)
}

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "x", 1)
	require.Error(t, err)
}
