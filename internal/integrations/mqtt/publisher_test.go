package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"faceverify/internal/core/biometrics"
	"faceverify/internal/core/session"
	"faceverify/internal/core/tracker"

	"github.com/stretchr/testify/require"
)

type published struct {
	topic   string
	payload interface{}
	retain  bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) PublishMessage(topic string, payload interface{}, retain bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic, payload, retain})
	return f.err
}

func (f *fakePublisher) retained() []published {
	var out []published
	for _, m := range f.msgs {
		if m.retain {
			out = append(out, m)
		}
	}
	return out
}

func outcome(id string, stable bool) session.FrameOutcome {
	code := session.CodeMatching
	state := tracker.Accumulating
	if stable {
		code, state = session.CodeVerified, tracker.Confirmed
	}
	return session.FrameOutcome{
		SessionID:    id,
		Code:         code,
		FaceCount:    1,
		StableMatch:  stable,
		State:        state,
		Verification: &biometrics.VerificationResult{IsPass: true, Confidence: 0.91},
	}
}

func TestPublisherStateTransitions(t *testing.T) {
	fake := &fakePublisher{}
	p := NewPublisher(fake, "faceverify")

	p.HandleOutcome(outcome("cam", false))
	p.HandleOutcome(outcome("cam", false))
	p.HandleOutcome(outcome("cam", true))
	p.HandleOutcome(outcome("cam", true))
	p.HandleOutcome(outcome("cam", false))
	p.Close()

	states := fake.retained()
	require.Len(t, states, 3)
	require.Equal(t, "faceverify/cam/state", states[0].topic)
	require.Equal(t, StateUnverified, states[0].payload)
	require.Equal(t, StateVerified, states[1].payload)
	require.Equal(t, StateUnverified, states[2].payload)

	require.Len(t, fake.msgs, 8)
}

func TestPublisherResultPayload(t *testing.T) {
	fake := &fakePublisher{}
	p := NewPublisher(fake, "fv")
	p.HandleOutcome(outcome("door", true))
	p.Close()

	require.Len(t, fake.msgs, 2)
	last := fake.msgs[1]
	require.Equal(t, "fv/door/result", last.topic)
	require.False(t, last.retain)

	raw, err := json.Marshal(last.payload)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "verified", decoded["code"])
	require.Equal(t, "confirmed", decoded["state"])
	require.InDelta(t, 0.91, decoded["confidence"], 1e-9)
}

func TestPublisherForgetClearsRetainedState(t *testing.T) {
	fake := &fakePublisher{}
	p := NewPublisher(fake, "fv")
	p.HandleOutcome(outcome("cam", true))
	p.Forget("cam")
	p.Register("cam")
	p.HandleOutcome(outcome("cam", true))
	p.Close()

	states := fake.retained()
	require.Len(t, states, 3)
	require.Equal(t, []byte{}, states[1].payload)
	require.Equal(t, StateVerified, states[2].payload)
}

func TestPublisherIgnoresOutcomesAfterForget(t *testing.T) {
	fake := &fakePublisher{}
	p := NewPublisher(fake, "fv")
	p.HandleOutcome(outcome("cam", true))
	p.Forget("cam")

	// a frame that was still in flight when the session was removed
	p.HandleOutcome(outcome("cam", false))
	p.Close()

	states := fake.retained()
	require.Len(t, states, 2)
	require.Equal(t, StateVerified, states[0].payload)
	require.Equal(t, []byte{}, states[1].payload)
	require.Len(t, fake.msgs, 3)
}

func TestPublisherForgetPurgesOldEntries(t *testing.T) {
	p := NewPublisher(&fakePublisher{}, "fv")
	defer p.Close()

	now := time.Now()
	p.now = func() time.Time { return now }
	p.Forget("old")

	now = now.Add(forgetRetention + time.Second)
	p.Forget("new")

	p.mutex.Lock()
	defer p.mutex.Unlock()
	require.NotContains(t, p.forgotten, "old")
	require.Contains(t, p.forgotten, "new")
}

func TestPublisherSurvivesPublishErrors(t *testing.T) {
	fake := &fakePublisher{err: errors.New("not connected")}
	p := NewPublisher(fake, "fv")
	p.HandleOutcome(outcome("cam", false))
	p.Close()
	p.Close()

	// ignored after close
	p.HandleOutcome(outcome("cam", true))
	require.Len(t, fake.msgs, 2)
}
