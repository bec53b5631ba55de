package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(partition int, offset int64) kafka.Message {
	return kafka.Message{Topic: "t", Partition: partition, Offset: offset}
}

func TestOffsetTrackerCommitsOnlyContiguousPrefix(t *testing.T) {
	tr := newOffsetTracker()
	for off := int64(10); off < 14; off++ {
		tr.fetched(msg(0, off))
	}

	// a later lane finishes first while offset 10 is still failing
	_, ok := tr.handled(msg(0, 12))
	assert.False(t, ok)
	_, ok = tr.handled(msg(0, 11))
	assert.False(t, ok, "nothing past the unhandled message is committed")

	mark, ok := tr.handled(msg(0, 10))
	require.True(t, ok)
	assert.EqualValues(t, 12, mark.Offset)

	mark, ok = tr.handled(msg(0, 13))
	require.True(t, ok)
	assert.EqualValues(t, 13, mark.Offset)
}

func TestOffsetTrackerKeepsPartitionsApart(t *testing.T) {
	tr := newOffsetTracker()
	tr.fetched(msg(0, 5))
	tr.fetched(msg(1, 7))

	mark, ok := tr.handled(msg(1, 7))
	require.True(t, ok)
	assert.Equal(t, 1, mark.Partition)
	assert.EqualValues(t, 7, mark.Offset)

	_, ok = tr.handled(msg(0, 6))
	assert.False(t, ok, "unfetched offsets never move the watermark")
}

func TestOffsetTrackerResetsWhenReaderRewinds(t *testing.T) {
	tr := newOffsetTracker()
	tr.fetched(msg(0, 20))
	tr.fetched(msg(0, 21))

	// redelivery after a rebalance starts again from the committed offset
	tr.fetched(msg(0, 20))
	mark, ok := tr.handled(msg(0, 20))
	require.True(t, ok)
	assert.EqualValues(t, 20, mark.Offset)
}
