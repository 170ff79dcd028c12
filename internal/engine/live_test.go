package engine

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"spread-trader/internal/models"
)

func TestSendDeliversWhileRunning(t *testing.T) {
	r := &Runner{
		events: make(chan liveEvent, 1),
		done:   make(chan struct{}),
		logger: zerolog.Nop(),
	}

	r.send(liveEvent{fill: &models.FillEvent{LegID: "leg-1"}})

	ev := <-r.events
	require.NotNil(t, ev.fill)
	require.Equal(t, "leg-1", ev.fill.LegID)
}

func TestSendAfterRunExitDoesNotBlock(t *testing.T) {
	// Unbuffered channel with no consumer: before the done guard this send
	// would wedge the broker callback goroutine forever.
	r := &Runner{
		events: make(chan liveEvent),
		done:   make(chan struct{}),
		logger: zerolog.Nop(),
	}
	close(r.done)

	finished := make(chan struct{})
	go func() {
		r.send(liveEvent{fill: &models.FillEvent{LegID: "leg-1"}})
		r.send(liveEvent{obs: &models.Observation{}})
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("send blocked after the run loop exited")
	}
}
