package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain"
	eventbus "github.com/strandlabs/strand/pkg/adapters/events/memory"
	memstore "github.com/strandlabs/strand/pkg/adapters/storage/memory"
)

type eventCollector struct {
	mu     sync.Mutex
	events []domain.Event
}

func (c *eventCollector) handle(_ context.Context, event domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *eventCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *eventCollector) last() domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func monitorConfig() Config {
	return Config{Interval: time.Hour, VerdictWindow: 3, StallThreshold: 10 * time.Minute}
}

func seedSession(t *testing.T, store *memstore.Store, status domain.SessionStatus, verdicts []domain.StepVerdict, lastStep time.Time) string {
	t.Helper()
	sess := &domain.Session{
		ID:      "sess-" + string(status) + "-" + time.Now().Format("150405.000000000"),
		GraphID: "worker-graph",
		Status:  status,
	}
	require.NoError(t, store.SaveSession(context.Background(), sess))
	for i, v := range verdicts {
		ts := lastStep.Add(time.Duration(i-len(verdicts)) * time.Minute)
		if i == len(verdicts)-1 {
			ts = lastStep
		}
		require.NoError(t, store.AppendStep(context.Background(), &domain.StepRecord{
			SessionID: sess.ID,
			NodeID:    "w",
			Turn:      i + 1,
			Verdict:   v,
			Summary:   "step summary",
			Timestamp: ts,
		}))
	}
	return sess.ID
}

func TestMonitorEscalatesStalledSession(t *testing.T) {
	t.Parallel()
	bus := eventbus.NewBus(zap.NewNop(), nil)
	t.Cleanup(func() { _ = bus.Close() })
	store := memstore.NewStore()

	var raised eventCollector
	_, err := bus.Subscribe([]domain.EventType{domain.EventEscalationRaised}, raised.handle, nil)
	require.NoError(t, err)

	m := NewMonitor(store, bus, nil, zap.NewNop(), monitorConfig())

	// Positive verdicts but no step for 30 minutes: stalled, not regressing.
	sessionID := seedSession(t, store, domain.SessionRunning,
		[]domain.StepVerdict{domain.VerdictPositive, domain.VerdictPositive},
		time.Now().UTC().Add(-30*time.Minute))
	m.Watch(sessionID)

	m.checkSession(context.Background(), sessionID)

	waitFor(t, func() bool { return raised.count() == 1 })
	event := raised.last()
	require.Equal(t, GraphID, event.GraphID)
	require.Equal(t, sessionID, event.StreamID)

	ticket, ok := event.Payload["ticket"].(*domain.EscalationTicket)
	require.True(t, ok)
	require.Equal(t, domain.SeverityHigh, ticket.Severity)
	require.NoError(t, ticket.Validate())
	require.Contains(t, ticket.Evidence.Excerpt, "step summary")
}

func TestMonitorEscalatesNoProgressAsMedium(t *testing.T) {
	t.Parallel()
	bus := eventbus.NewBus(zap.NewNop(), nil)
	t.Cleanup(func() { _ = bus.Close() })
	store := memstore.NewStore()

	var raised eventCollector
	_, err := bus.Subscribe([]domain.EventType{domain.EventEscalationRaised}, raised.handle, nil)
	require.NoError(t, err)

	m := NewMonitor(store, bus, nil, zap.NewNop(), monitorConfig())

	// Recent steps, all negative: regressing but not stalled.
	sessionID := seedSession(t, store, domain.SessionRunning,
		[]domain.StepVerdict{domain.VerdictNegative, domain.VerdictNegative, domain.VerdictNegative},
		time.Now().UTC().Add(-time.Minute))
	m.Watch(sessionID)

	m.checkSession(context.Background(), sessionID)

	waitFor(t, func() bool { return raised.count() == 1 })
	ticket := raised.last().Payload["ticket"].(*domain.EscalationTicket)
	require.Equal(t, domain.SeverityMedium, ticket.Severity)
}

func TestMonitorHealthySessionStaysQuiet(t *testing.T) {
	t.Parallel()
	bus := eventbus.NewBus(zap.NewNop(), nil)
	t.Cleanup(func() { _ = bus.Close() })
	store := memstore.NewStore()

	var raised eventCollector
	_, err := bus.Subscribe([]domain.EventType{domain.EventEscalationRaised}, raised.handle, nil)
	require.NoError(t, err)

	m := NewMonitor(store, bus, nil, zap.NewNop(), monitorConfig())
	sessionID := seedSession(t, store, domain.SessionRunning,
		[]domain.StepVerdict{domain.VerdictNegative, domain.VerdictPositive},
		time.Now().UTC().Add(-time.Minute))
	m.Watch(sessionID)

	m.checkSession(context.Background(), sessionID)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, raised.count())
}

func TestMonitorChecksFailedSessionBeforeLeavingWatchSet(t *testing.T) {
	t.Parallel()
	bus := eventbus.NewBus(zap.NewNop(), nil)
	t.Cleanup(func() { _ = bus.Close() })
	store := memstore.NewStore()

	var raised eventCollector
	_, err := bus.Subscribe([]domain.EventType{domain.EventEscalationRaised}, raised.handle, nil)
	require.NoError(t, err)

	m := NewMonitor(store, bus, nil, zap.NewNop(), monitorConfig())
	m.Start()
	t.Cleanup(m.Stop)

	sessionID := seedSession(t, store, domain.SessionFailed,
		[]domain.StepVerdict{domain.VerdictNegative},
		time.Now().UTC().Add(-time.Minute))

	// Lifecycle events land on one subscription in order, so the failure is
	// always checked while the session is still watched.
	bus.Emit(context.Background(), domain.Event{
		Type:     domain.EventExecutionStarted,
		StreamID: sessionID,
		GraphID:  "worker-graph",
	})
	bus.Emit(context.Background(), domain.Event{
		Type:     domain.EventExecutionFailed,
		StreamID: sessionID,
		GraphID:  "worker-graph",
	})

	waitFor(t, func() bool { return raised.count() == 1 })
	ticket, ok := raised.last().Payload["ticket"].(*domain.EscalationTicket)
	require.True(t, ok)
	require.Equal(t, domain.SeverityHigh, ticket.Severity)
	require.Equal(t, sessionID, ticket.SessionID)

	// After the check the session has left the watch set; further checks
	// are no-ops.
	m.checkSession(context.Background(), sessionID)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, raised.count())
}

func TestMonitorThrottlesRepeatTickets(t *testing.T) {
	t.Parallel()
	bus := eventbus.NewBus(zap.NewNop(), nil)
	t.Cleanup(func() { _ = bus.Close() })
	store := memstore.NewStore()

	var raised eventCollector
	_, err := bus.Subscribe([]domain.EventType{domain.EventEscalationRaised}, raised.handle, nil)
	require.NoError(t, err)

	m := NewMonitor(store, bus, nil, zap.NewNop(), monitorConfig())
	sessionID := seedSession(t, store, domain.SessionRunning,
		[]domain.StepVerdict{domain.VerdictPositive},
		time.Now().UTC().Add(-30*time.Minute))
	m.Watch(sessionID)

	m.checkSession(context.Background(), sessionID)
	m.checkSession(context.Background(), sessionID)
	m.checkSession(context.Background(), sessionID)

	waitFor(t, func() bool { return raised.count() == 1 })
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, raised.count())
}

func TestPublishRefusesIncompleteTicket(t *testing.T) {
	t.Parallel()
	bus := eventbus.NewBus(zap.NewNop(), nil)
	t.Cleanup(func() { _ = bus.Close() })

	var raised eventCollector
	_, err := bus.Subscribe([]domain.EventType{domain.EventEscalationRaised}, raised.handle, nil)
	require.NoError(t, err)

	m := NewMonitor(memstore.NewStore(), bus, nil, zap.NewNop(), monitorConfig())

	// No severity: the publish is refused and nothing reaches the bus.
	err = m.Publish(context.Background(), &domain.EscalationTicket{
		TicketID:        "t1",
		SessionID:       "s1",
		Cause:           "stalled",
		Reasoning:       "r",
		SuggestedAction: "a",
		Evidence:        domain.EscalationEvidence{Excerpt: "e"},
	})
	require.ErrorIs(t, err, domain.ErrInvalidSeverity)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, raised.count())
}

func TestBuildEvidence(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	steps := []domain.StepRecord{
		{Verdict: domain.VerdictPositive, Timestamp: now.Add(-20 * time.Minute)},
		{Verdict: domain.VerdictPositive, Timestamp: now.Add(-15 * time.Minute)},
		{Verdict: domain.VerdictNegative, Timestamp: now.Add(-10 * time.Minute)},
		{Verdict: domain.VerdictNeutral, Timestamp: now.Add(-5 * time.Minute), NodeID: "w", Summary: "waiting"},
	}

	ev := buildEvidence(steps, 3, now)
	require.Equal(t, 4, ev.TotalSteps)
	require.Equal(t, []domain.StepVerdict{
		domain.VerdictPositive, domain.VerdictNegative, domain.VerdictNeutral,
	}, ev.RecentVerdicts)
	require.Equal(t, 2, ev.NoProgressSteps)
	require.InDelta(t, 5.0, ev.StallMinutes, 0.1)
	require.Contains(t, ev.Excerpt, "waiting")
}

func TestTriageNotifiesAtOrAboveThreshold(t *testing.T) {
	t.Parallel()
	bus := eventbus.NewBus(zap.NewNop(), nil)
	t.Cleanup(func() { _ = bus.Close() })

	var notified eventCollector
	_, err := bus.Subscribe([]domain.EventType{domain.EventOperatorNotified}, notified.handle, nil)
	require.NoError(t, err)

	triage := NewTriage(bus, zap.NewNop(), domain.SeverityHigh)
	require.NoError(t, triage.Start())
	t.Cleanup(triage.Stop)

	m := NewMonitor(memstore.NewStore(), bus, nil, zap.NewNop(), monitorConfig())

	publish := func(severity domain.Severity) {
		require.NoError(t, m.Publish(context.Background(), &domain.EscalationTicket{
			TicketID:        "ticket-" + string(severity),
			SessionID:       "s1",
			GraphID:         "g1",
			Severity:        severity,
			Cause:           "stalled",
			Reasoning:       "r",
			SuggestedAction: "a",
			Evidence:        domain.EscalationEvidence{Excerpt: "e"},
			CreatedAt:       time.Now().UTC(),
		}))
	}

	publish(domain.SeverityMedium)
	publish(domain.SeverityHigh)
	publish(domain.SeverityCritical)

	waitFor(t, func() bool { return notified.count() == 2 })
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 2, notified.count())

	event := notified.last()
	require.Equal(t, GraphID, event.GraphID)
	require.Equal(t, "ticket-critical", event.Payload["ticket_id"])
}

func TestTriageRejectsTicketlessEvent(t *testing.T) {
	t.Parallel()
	bus := eventbus.NewBus(zap.NewNop(), nil)
	t.Cleanup(func() { _ = bus.Close() })

	var notified eventCollector
	_, err := bus.Subscribe([]domain.EventType{domain.EventOperatorNotified}, notified.handle, nil)
	require.NoError(t, err)

	triage := NewTriage(bus, zap.NewNop(), domain.SeverityLow)
	require.NoError(t, triage.Start())
	t.Cleanup(triage.Stop)

	bus.Emit(context.Background(), domain.Event{
		Type:    domain.EventEscalationRaised,
		Payload: map[string]any{"note": "no ticket here"},
	})

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, notified.count())
}

func TestDecodeTicketFromWireMap(t *testing.T) {
	t.Parallel()

	// A ticket that crossed a JSON boundary arrives as a generic map and must
	// re-validate.
	event := domain.Event{
		Payload: map[string]any{
			"ticket": map[string]any{
				"ticket_id":        "t1",
				"session_id":       "s1",
				"severity":         "high",
				"cause":            "stalled",
				"reasoning":        "r",
				"suggested_action": "a",
				"evidence":         map[string]any{"excerpt": "e"},
			},
		},
	}
	ticket, err := decodeTicket(event)
	require.NoError(t, err)
	require.Equal(t, domain.SeverityHigh, ticket.Severity)

	// Same shape with an out-of-set severity is rejected.
	event.Payload["ticket"].(map[string]any)["severity"] = "urgent"
	_, err = decodeTicket(event)
	require.ErrorIs(t, err, domain.ErrInvalidSeverity)
}
