package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopics_SubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	topics := NewTopics()

	assert.True(t, topics.Subscribe("user-1", "t1"))
	assert.False(t, topics.Subscribe("user-1", "t1"))

	assert.Equal(t, []string{"user-1"}, topics.Subscribers("t1"))
	assert.Equal(t, 1, topics.TopicCount())
}

func TestTopics_UnsubscribePrunesEmptyTopics(t *testing.T) {
	t.Parallel()

	topics := NewTopics()
	before := topics.TopicCount()

	topics.Subscribe("user-1", "t1")
	topics.Unsubscribe("user-1", "t1")

	assert.Equal(t, before, topics.TopicCount(), "no residual entry for the topic")
	assert.False(t, topics.IsSubscribed("user-1", "t1"))
}

func TestTopics_UnsubscribeUnknownIsNoOp(t *testing.T) {
	t.Parallel()

	topics := NewTopics()
	assert.False(t, topics.Unsubscribe("user-1", "t1"))

	topics.Subscribe("user-2", "t1")
	assert.False(t, topics.Unsubscribe("user-1", "t1"))
	assert.Equal(t, 1, topics.TopicCount())
}

func TestTopics_TopicsOf(t *testing.T) {
	t.Parallel()

	topics := NewTopics()
	topics.Subscribe("user-1", "t1")
	topics.Subscribe("user-1", "t2")
	topics.Subscribe("user-2", "t2")

	assert.ElementsMatch(t, []string{"t1", "t2"}, topics.TopicsOf("user-1"))
	assert.Equal(t, []string{"t2"}, topics.TopicsOf("user-2"))
	assert.Empty(t, topics.TopicsOf("user-3"))
}
