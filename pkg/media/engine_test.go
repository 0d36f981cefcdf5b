package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, c Constraints) *Engine {
	t.Helper()
	e, err := NewEngine(EngineConfig{}, c)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestNewEngine_FlagsFollowConstraints(t *testing.T) {
	tests := []struct {
		name        string
		constraints Constraints
		wantAudio   bool
		wantVideo   bool
	}{
		{"audio and video", Constraints{Audio: true, Video: VideoConstraint{Enabled: true}}, true, true},
		{"audio only", Constraints{Audio: true}, true, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e := newTestEngine(t, test.constraints)
			assert.Equal(t, test.wantAudio, e.SendingAudio())
			assert.Equal(t, test.wantAudio, e.ReceivingAudio())
			assert.Equal(t, test.wantVideo, e.SendingVideo())
			assert.Equal(t, test.wantVideo, e.ReceivingVideo())
			assert.Equal(t, test.constraints, e.Constraints())
		})
	}
}

func TestEngine_SetFlagNotifiesListeners(t *testing.T) {
	e := newTestEngine(t, Constraints{Audio: true, Video: VideoConstraint{Enabled: true}})

	var changes []string
	cancelChg := e.OnChange(func(c Change) { changes = append(changes, c.Field) })
	defer cancelChg()

	e.SetSendingVideo(false)
	assert.False(t, e.SendingVideo())
	assert.Equal(t, []string{FieldSendingVideo}, changes)

	// Setting the same value again is a no-op.
	e.SetSendingVideo(false)
	assert.Len(t, changes, 1)
}

func TestEngine_SetLocalStreamTriggersRenegotiation(t *testing.T) {
	e := newTestEngine(t, Constraints{Audio: true, Video: VideoConstraint{Enabled: true}})

	var changes []string
	e.OnChange(func(c Change) { changes = append(changes, c.Field) })
	negotiations := 0
	e.OnNegotiationNeeded(func() { negotiations++ })

	s, err := e.CaptureStream(Constraints{Audio: true, Video: VideoConstraint{Enabled: true, FacingMode: FacingModeUser}})
	require.NoError(t, err)
	assert.Equal(t, FacingModeUser, s.FacingMode)

	require.NoError(t, e.SetLocalStream(s))
	assert.Same(t, s, e.LocalStream())
	assert.Contains(t, changes, FieldLocalStream)
	assert.GreaterOrEqual(t, negotiations, 1)
}

func TestEngine_CancelDetachesCallback(t *testing.T) {
	e := newTestEngine(t, Constraints{Audio: true})

	calls := 0
	cancel := e.OnChange(func(Change) { calls++ })
	cancel()

	e.SetSendingAudio(false)
	assert.Zero(t, calls)
}

func TestEngine_ClosedOperationsFail(t *testing.T) {
	e := newTestEngine(t, Constraints{Audio: true})
	require.NoError(t, e.Close())

	_, err := e.CaptureStream(Constraints{Audio: true})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, e.SetLocalStream(&Stream{ID: "s"}), ErrClosed)
	assert.ErrorIs(t, e.AcceptAnswer("v=0"), ErrClosed)

	// Close is idempotent.
	assert.NoError(t, e.Close())
}
