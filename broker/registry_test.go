package broker_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/replymux/broker"
	"github.com/miladsoleymani/replymux/core"
	"github.com/miladsoleymani/replymux/internal/mock"
)

func TestRegistry(t *testing.T) {
	var got broker.Config
	broker.Register("memory-test", func(cfg broker.Config) (core.Broker, error) {
		got = cfg
		return mock.NewBroker(), nil
	})

	cfg := broker.Config{
		Brokers: []string{"mem://"},
		Group:   "workers",
		Extra:   map[string]any{"prefetch_count": 5, "region": "eu-west-1", "auto_ack": true},
	}
	b, err := broker.Create("memory-test", cfg)
	require.NoError(t, err)
	assert.NotNil(t, b)
	assert.Equal(t, "workers", got.Group)
	assert.Equal(t, 5, got.Int("prefetch_count"))
	assert.Equal(t, "eu-west-1", got.String("region"))
	assert.True(t, got.Bool("auto_ack"))
	assert.Empty(t, got.String("missing"))
	assert.Contains(t, broker.Names(), "memory-test")
}

func TestRegistry_Unknown(t *testing.T) {
	_, err := broker.Create("does-not-exist", broker.Config{})
	assert.Error(t, err)
}

func TestRegistry_FactoryError(t *testing.T) {
	boom := errors.New("dial failed")
	broker.Register("failing-test", func(broker.Config) (core.Broker, error) { return nil, boom })
	_, err := broker.Create("failing-test", broker.Config{})
	assert.ErrorIs(t, err, boom)
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	f := func(broker.Config) (core.Broker, error) { return mock.NewBroker(), nil }
	broker.Register("dup-test", f)
	assert.Panics(t, func() { broker.Register("dup-test", f) })
	assert.Panics(t, func() { broker.Register("nil-test", nil) })
}
