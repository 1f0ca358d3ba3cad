package health

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthStateString(t *testing.T) {
	tests := []struct {
		state    HealthState
		expected string
	}{
		{StateHealthy, "healthy"},
		{StateDegraded, "degraded"},
		{StateUnavailable, "unavailable"},
		{HealthState(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.state.String())
	}
}

func TestRegisterComponent(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent("archive:s3")

	assert.True(t, tracker.IsHealthy("archive:s3"))
	assert.Equal(t, StateUnavailable, tracker.GetState("unknown"), "unregistered components are unavailable")
	assert.Equal(t, []string{"archive:s3"}, tracker.ComponentNames())
}

func TestErrorThresholds(t *testing.T) {
	tracker := NewTracker(TrackerConfig{ErrorThreshold: 2, UnavailableThreshold: 4})
	tracker.RegisterComponent("sink")

	sinkErr := errors.New("connection refused")

	tracker.RecordError("sink", sinkErr)
	assert.Equal(t, StateHealthy, tracker.GetState("sink"))

	tracker.RecordError("sink", sinkErr)
	assert.Equal(t, StateDegraded, tracker.GetState("sink"))

	tracker.RecordError("sink", sinkErr)
	tracker.RecordError("sink", sinkErr)
	assert.Equal(t, StateUnavailable, tracker.GetState("sink"))
	assert.Equal(t, StateUnavailable, tracker.GetOverallHealth())

	h, err := tracker.GetComponentHealth("sink")
	require.NoError(t, err)
	assert.Equal(t, 4, h.ConsecutiveErrors)
	assert.Equal(t, "connection refused", h.LastErrorMessage)

	tracker.RecordSuccess("sink")
	assert.Equal(t, StateHealthy, tracker.GetState("sink"))
	h, _ = tracker.GetComponentHealth("sink")
	assert.Zero(t, h.ConsecutiveErrors)
	assert.Empty(t, h.LastErrorMessage)
}

func TestOverallHealthIsWorstComponent(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	assert.Equal(t, StateHealthy, tracker.GetOverallHealth())

	tracker.RegisterComponent("a")
	tracker.RegisterComponent("b")
	tracker.RecordError("b", errors.New("boom"))

	assert.Equal(t, StateDegraded, tracker.GetOverallHealth())
}

func TestStateChangeCallback(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent("sink")

	var changes []string
	tracker.AddStateChangeCallback(func(component string, oldState, newState HealthState, err error) {
		changes = append(changes, component+":"+oldState.String()+"->"+newState.String())
	})

	tracker.RecordError("sink", errors.New("x"))
	tracker.RecordError("sink", errors.New("x"))
	tracker.RecordSuccess("sink")
	tracker.RecordSuccess("sink")

	assert.Equal(t, []string{"sink:healthy->degraded", "sink:degraded->healthy"}, changes)
}

func TestGetAllComponentsReturnsCopies(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent("sink")
	tracker.SetComponentMetadata("sink", "backend", "redis")

	all := tracker.GetAllComponents()
	require.Contains(t, all, "sink")
	all["sink"].Metadata["backend"] = "mutated"
	all["sink"].State = StateUnavailable

	h, _ := tracker.GetComponentHealth("sink")
	assert.Equal(t, "redis", h.Metadata["backend"])
	assert.Equal(t, StateHealthy, h.State)
}

func TestLastStateChangeUsesClock(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Unix(100, 0))
	tracker := NewTracker(TrackerConfig{Clock: clk})
	tracker.RegisterComponent("sink")

	clk.Add(time.Minute)
	tracker.RecordError("sink", errors.New("x"))

	h, _ := tracker.GetComponentHealth("sink")
	assert.True(t, h.LastStateChange.Equal(time.Unix(160, 0)), "got %v", h.LastStateChange)
}

func TestCheckAll(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent("good")
	tracker.RegisterComponent("bad")

	tracker.CheckAll(context.Background(), func(ctx context.Context, component string) error {
		if component == "bad" {
			return errors.New("unreachable")
		}
		return nil
	})

	assert.True(t, tracker.IsHealthy("good"))
	assert.Equal(t, StateDegraded, tracker.GetState("bad"))
}

func TestStartHealthChecks(t *testing.T) {
	clk := clock.NewMock()
	tracker := NewTracker(TrackerConfig{HealthCheckInterval: time.Second, Clock: clk})
	tracker.RegisterComponent("sink")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tracker.StartHealthChecks(ctx, func(ctx context.Context, component string) error {
			return errors.New("down")
		})
		close(done)
	}()

	assert.Eventually(t, func() bool {
		clk.Add(time.Second)
		return tracker.GetState("sink") == StateDegraded
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestComponentHealthJSON(t *testing.T) {
	data, err := json.Marshal(&ComponentHealth{Name: "sink", State: StateDegraded})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"degraded"`)
}
