package sse

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"faceverify/internal/core/session"
	"faceverify/internal/core/tracker"

	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, c Client) []byte {
	t.Helper()
	select {
	case msg, ok := <-c:
		require.True(t, ok, "client channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestHubBroadcastsOutcomes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	client := make(Client, 4)
	hub.Register(client)
	require.Equal(t, 1, hub.ClientCount())

	hub.BroadcastOutcome(session.FrameOutcome{
		SessionID:        "cam",
		Code:             session.CodeVerified,
		FaceCount:        1,
		StableMatch:      true,
		State:            tracker.Confirmed,
		ContinuousPasses: 5,
	})

	var event struct {
		Type      string      `json:"type"`
		SessionID string      `json:"session_id"`
		Data      OutcomeData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(receive(t, client), &event))
	require.Equal(t, EventFrameOutcome, event.Type)
	require.Equal(t, "cam", event.SessionID)
	require.True(t, event.Data.StableMatch)
	require.Equal(t, 5, event.Data.ContinuousPasses)

	hub.Unregister(client)
	_, ok := <-client
	require.False(t, ok)
}

func TestHubDropsSlowClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	slow := make(Client)
	hub.Register(slow)
	hub.BroadcastEvent(Event{Type: EventSessionCreated, SessionID: "a"})

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubClosesClientsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	client := make(Client, 1)
	hub.Register(client)
	cancel()
	<-done

	_, ok := <-client
	require.False(t, ok)
}
