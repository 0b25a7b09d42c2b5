package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	all := []State{StateCreated, StateAssigned, StateStarted, StateInReview, StateDone}
	allowed := map[[2]State]bool{
		{StateCreated, StateAssigned}:  true,
		{StateAssigned, StateStarted}:  true,
		{StateStarted, StateInReview}:  true,
		{StateInReview, StateDone}:     true,
		{StateInReview, StateAssigned}: true,
	}
	for _, from := range all {
		for _, to := range all {
			err := EnsureTransition(from, to)
			if allowed[[2]State{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
				continue
			}
			require.Error(t, err, "%s -> %s", from, to)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
			var te InvalidTransitionError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, from, te.From)
			assert.Equal(t, to, te.To)
		}
	}
}

func TestStateHelpers(t *testing.T) {
	assert.True(t, StateDone.Terminal())
	assert.False(t, StateInReview.Terminal())
	assert.False(t, State("Paused").Valid())
	assert.Equal(t, DateStart, DateKey(StateStarted))
	assert.Equal(t, DateEnd, DateKey(StateInReview))
	assert.Equal(t, DateApprovedAt, DateKey(StateDone))
	assert.Equal(t, "", DateKey(StateCreated))
}

func TestForbiddenErrorMatchesSentinel(t *testing.T) {
	err := ForbiddenError{Action: "start work order"}
	assert.True(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, "not allowed to start work order", err.Error())
}

func TestLastAssigner(t *testing.T) {
	created := StateCreated
	w := WorkOrder{History: []HistoryEntry{
		{UserID: "admin", To: StateCreated},
		{UserID: "admin", From: &created, To: StateAssigned},
		{UserID: "tech", To: StateStarted},
		{UserID: "sup", To: StateAssigned},
	}}
	assert.Equal(t, "sup", w.LastAssigner())
	assert.Equal(t, "", WorkOrder{}.LastAssigner())
}
