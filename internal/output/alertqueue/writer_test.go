package alertqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthwatch/pkg/models"
)

func newWriter(t *testing.T, maxLen int64) (*miniredis.Miniredis, *Writer) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	w, err := NewWriter(Config{Addr: mr.Addr(), Key: "hw:changes", MaxLen: maxLen, BlockTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return mr, w
}

func TestWriteChangesPushesAndTrims(t *testing.T) {
	mr, w := newWriter(t, 2)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, w.WriteChanges([]models.Alert{{ExternalID: id}}, nil, nil))
	}
	require.NoError(t, w.WriteChanges(nil, nil, nil))

	items, err := mr.List("hw:changes")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	msg, err := w.Pop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Len(t, msg.Created, 1)
	assert.Equal(t, "b", msg.Created[0].ExternalID)
	assert.NotNil(t, msg.Reopened)
	assert.NotNil(t, msg.Resolved)
}

func TestConsumerPopsReopenedInOrder(t *testing.T) {
	mr, producer := newWriter(t, 0)
	consumer, err := NewWriter(Config{Addr: mr.Addr(), Key: "hw:changes", BlockTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer consumer.Close()

	require.NoError(t, producer.WriteChanges(nil, []models.Alert{{ExternalID: "back"}}, nil))
	require.NoError(t, producer.WriteChanges(nil, nil, []models.Alert{{ExternalID: "gone"}}))

	first, err := consumer.Pop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Len(t, first.Reopened, 1)
	assert.Equal(t, "back", first.Reopened[0].ExternalID)
	assert.Empty(t, first.Created)

	second, err := consumer.Pop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Len(t, second.Resolved, 1)
	assert.Equal(t, "gone", second.Resolved[0].ExternalID)
}

func TestPopOnEmptyQueue(t *testing.T) {
	_, w := newWriter(t, 0)
	msg, err := w.Pop(context.Background())
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestNewWriterRequiresKey(t *testing.T) {
	_, err := NewWriter(Config{})
	assert.Error(t, err)
}
