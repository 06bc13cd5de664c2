package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	all := []RideStatus{StatusRequested, StatusAccepted, StatusOngoing, StatusCompleted, StatusCancelled}
	allowed := map[[2]RideStatus]bool{
		{StatusRequested, StatusAccepted}:  true,
		{StatusAccepted, StatusOngoing}:    true,
		{StatusOngoing, StatusCompleted}:   true,
		{StatusRequested, StatusCancelled}: true,
		{StatusAccepted, StatusCancelled}:  true,
		{StatusOngoing, StatusCancelled}:   true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]RideStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalAndDriverBinding(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusOngoing.Terminal())

	assert.False(t, StatusRequested.HasDriver())
	assert.True(t, StatusAccepted.HasDriver())
	assert.False(t, RideStatus("matched").Valid())
}

func TestSourcesForReturnsCopy(t *testing.T) {
	src := SourcesFor(StatusCancelled)
	src[0] = StatusCompleted
	assert.Equal(t, StatusRequested, SourcesFor(StatusCancelled)[0])
}
