package ids

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_SameMillisecondStaysOrdered(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewGenerator(func() time.Time { return at })

	var prev ulid.ULID
	for i := range 100 {
		id, err := ulid.Parse(g.Next())
		require.NoError(t, err)
		assert.Equal(t, ulid.Timestamp(at), id.Time())
		if i > 0 {
			assert.Equal(t, 1, id.Compare(prev), "id %d out of order", i)
		}
		prev = id
	}
}

func TestNewMessageID(t *testing.T) {
	a, b := NewMessageID(), NewMessageID()
	assert.Len(t, a, 26)
	assert.Less(t, a, b)
}
