package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishInSubscriptionOrder(t *testing.T) {
	bus := NewBus()
	var calls []string
	bus.Subscribe(ActionStopAll, func(Command) { calls = append(calls, "first") })
	bus.Subscribe(ActionStopAll, func(Command) { calls = append(calls, "second") })
	bus.Subscribe(ActionClampUpper, func(Command) { calls = append(calls, "other") })

	require.NoError(t, bus.Publish(Command{Action: ActionStopAll}))
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	count := 0
	unsubscribe := bus.Subscribe(ActionStopAll, func(Command) { count++ })
	keep := bus.Subscribe(ActionStopAll, func(Command) { count += 10 })

	unsubscribe()
	unsubscribe()
	require.NoError(t, bus.Publish(Command{Action: ActionStopAll}))
	assert.Equal(t, 10, count)

	keep()
	assert.False(t, bus.HasHandler(ActionStopAll))
	assert.ErrorIs(t, bus.Publish(Command{Action: ActionStopAll}), ErrNoHandler)
}

func TestParseHelpers(t *testing.T) {
	tier, err := ParseSpeedTier("")
	require.NoError(t, err)
	assert.Equal(t, "slow", string(tier))

	_, err = ParseActionType("install_sample")
	assert.NoError(t, err)
	_, err = ParseActionType("")
	assert.Error(t, err)

	assert.Len(t, Actions(), 21)
}
