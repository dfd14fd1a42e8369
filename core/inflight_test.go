package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInflight_DrainWaitsForRelease(t *testing.T) {
	tr := newInflight(8)
	assert.Equal(t, admitted, tr.acquire("a", nil))
	assert.Equal(t, admitted, tr.acquire("", nil))

	idle := tr.drain()
	select {
	case <-idle:
		t.Fatal("idle before in-flight work finished")
	default:
	}
	assert.Equal(t, admitDraining, tr.acquire("b", nil))

	tr.release("a", true)
	tr.release("", true)
	<-idle
	assert.Equal(t, 0, tr.count())
}

func TestInflight_DrainWhenIdle(t *testing.T) {
	tr := newInflight(8)
	<-tr.drain()
	// second drain must not close twice
	<-tr.drain()
}

func TestInflight_Duplicates(t *testing.T) {
	tr := newInflight(8)
	assert.Equal(t, admitted, tr.acquire("k", nil))
	assert.Equal(t, admitDuplicateInFlight, tr.acquire("k", nil))

	assert.Len(t, tr.release("k", true), 1)
	assert.Equal(t, admitDuplicateDone, tr.acquire("k", nil))

	assert.Equal(t, admitted, tr.acquire("failed", nil))
	tr.release("failed", false)
	assert.Equal(t, admitted, tr.acquire("failed", nil), "incomplete work is not remembered")
}

type parkedMessage struct{ id string }

func (m *parkedMessage) Key() []byte                { return []byte(m.id) }
func (m *parkedMessage) Value() []byte              { return nil }
func (m *parkedMessage) Headers() map[string]string { return nil }
func (m *parkedMessage) Ack() error                 { return nil }
func (m *parkedMessage) Nack() error                { return nil }

func TestInflight_ParksDuplicatesUntilRelease(t *testing.T) {
	tr := newInflight(8)
	first, second := &parkedMessage{"1"}, &parkedMessage{"2"}

	assert.Equal(t, admitted, tr.acquire("k", &parkedMessage{"orig"}))
	assert.Equal(t, admitDuplicateInFlight, tr.acquire("k", first))
	assert.Equal(t, admitDuplicateInFlight, tr.acquire("k", second))
	assert.Equal(t, 1, tr.count(), "parked duplicates are not in flight")

	parked := tr.release("k", false)
	assert.Equal(t, []Message{first, second}, parked)

	assert.Equal(t, admitted, tr.acquire("k", nil))
	assert.Empty(t, tr.release("k", true), "parked list is cleared after release")
}

func TestRecentKeys_Evicts(t *testing.T) {
	r := newRecentKeys(2)
	r.add("a")
	r.add("b")
	r.add("c")
	assert.False(t, r.contains("a"))
	assert.True(t, r.contains("b"))
	assert.True(t, r.contains("c"))

	zero := newRecentKeys(0)
	zero.add("a")
	assert.False(t, zero.contains("a"))
}
