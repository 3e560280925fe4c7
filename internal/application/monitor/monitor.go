package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain"
	"github.com/strandlabs/strand/internal/ports"
)

// GraphID identifies the monitor's own emissions so its trigger filter can
// exclude them and never re-trigger on its own output.
const GraphID = "health-monitor"

// Config tunes the health monitor.
type Config struct {
	// Interval between sweeps, independent of the monitored worker's pace.
	Interval time.Duration
	// VerdictWindow is how many recent step verdicts feed the evidence.
	VerdictWindow int
	// StallThreshold is how long without a step counts as stalled.
	StallThreshold time.Duration
}

// Monitor is the timer-driven worker health monitor. It reads watched
// sessions' step logs and status documents strictly read-only, and publishes
// a fully populated EscalationTicket when a session looks degraded. It never
// pauses or cancels the session it watches.
type Monitor struct {
	store   ports.SessionStore
	bus     ports.EventBus
	metrics ports.MetricsCollector
	logger  *zap.Logger
	cfg     Config

	mu      sync.Mutex
	watched map[string]bool
	// lastTicket throttles repeat escalations per session within one stall.
	lastTicket map[string]time.Time
	running    bool
	stopCh     chan struct{}
	subID      string
}

// NewMonitor creates a health monitor. metrics may be nil.
func NewMonitor(store ports.SessionStore, bus ports.EventBus, metrics ports.MetricsCollector, logger *zap.Logger, cfg Config) *Monitor {
	return &Monitor{
		store:      store,
		bus:        bus,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		watched:    make(map[string]bool),
		lastTicket: make(map[string]time.Time),
		stopCh:     make(chan struct{}),
	}
}

// Watch registers a session for monitoring.
func (m *Monitor) Watch(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watched[sessionID] = true
}

// Unwatch removes a session.
func (m *Monitor) Unwatch(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watched, sessionID)
	delete(m.lastTicket, sessionID)
}

// Start begins the sweep loop and subscribes to execution lifecycle events:
// sessions enter the watch set as they start or resume and leave as they end.
// Keeping the bookkeeping on one subscription gives a failure event a fixed
// order against the Unwatch, so a failed session is always checked before it
// leaves the watch set. The subscription excludes the monitor's own graph id.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	subID, err := m.bus.Subscribe(
		[]domain.EventType{
			domain.EventExecutionStarted,
			domain.EventExecutionResumed,
			domain.EventExecutionCompleted,
			domain.EventExecutionFailed,
			domain.EventExecutionCancelled,
		},
		func(ctx context.Context, event domain.Event) error {
			switch event.Type {
			case domain.EventExecutionStarted, domain.EventExecutionResumed:
				m.Watch(event.StreamID)
			case domain.EventExecutionFailed:
				m.checkSession(ctx, event.StreamID)
				m.Unwatch(event.StreamID)
			default:
				m.Unwatch(event.StreamID)
			}
			return nil
		},
		&ports.SubscribeOptions{ExcludeGraphID: GraphID},
	)
	if err != nil {
		m.logger.Error("health monitor failed to subscribe", zap.Error(err))
	} else {
		m.subID = subID
	}

	go m.run()
}

// Stop halts the sweep loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	if m.subID != "" {
		m.bus.Unsubscribe(m.subID)
	}
	close(m.stopCh)
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Monitor) sweep() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.watched))
	for id := range m.watched {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	ctx := context.Background()
	for _, id := range ids {
		m.checkSession(ctx, id)
	}
}

// checkSession reads one session's logs, computes health evidence, and
// escalates when degraded. Publishing fails closed: an incomplete ticket is
// refused and nothing reaches the bus.
func (m *Monitor) checkSession(ctx context.Context, sessionID string) {
	m.mu.Lock()
	watched := m.watched[sessionID]
	m.mu.Unlock()
	if !watched {
		return
	}

	sess, err := m.store.LoadSession(ctx, sessionID)
	if err != nil {
		m.logger.Warn("health check could not load session",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}
	if sess.Status.IsTerminal() && sess.Status == domain.SessionCompleted {
		m.Unwatch(sessionID)
		return
	}

	steps, err := m.store.ReadSteps(ctx, sessionID)
	if err != nil {
		m.logger.Warn("health check could not read step log",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}

	evidence := buildEvidence(steps, m.cfg.VerdictWindow, time.Now().UTC())
	severity, cause := assess(sess, evidence, m.cfg)
	if severity == "" {
		return
	}

	m.mu.Lock()
	if last, ok := m.lastTicket[sessionID]; ok && time.Since(last) < m.cfg.Interval*3 {
		m.mu.Unlock()
		return
	}
	m.lastTicket[sessionID] = time.Now()
	m.mu.Unlock()

	ticket := &domain.EscalationTicket{
		TicketID:  uuid.New().String(),
		SessionID: sessionID,
		GraphID:   sess.GraphID,
		Severity:  severity,
		Cause:     cause,
		Reasoning: fmt.Sprintf(
			"%d steps total; %d consecutive without a positive verdict; %.1f minutes since last step",
			evidence.TotalSteps, evidence.NoProgressSteps, evidence.StallMinutes),
		SuggestedAction: suggestedAction(severity),
		Evidence:        evidence,
		CreatedAt:       time.Now().UTC(),
	}

	if err := m.Publish(ctx, ticket); err != nil {
		m.logger.Error("escalation refused",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}

// Publish validates and emits a ticket. Any missing required field refuses
// the publish; the monitor keeps running.
func (m *Monitor) Publish(ctx context.Context, ticket *domain.EscalationTicket) error {
	if err := ticket.Validate(); err != nil {
		return err
	}

	if m.metrics != nil {
		m.metrics.RecordEscalation(string(ticket.Severity))
	}
	m.bus.Emit(ctx, domain.Event{
		Type:        domain.EventEscalationRaised,
		GraphID:     GraphID,
		StreamID:    ticket.SessionID,
		ExecutionID: ticket.TicketID,
		Payload: map[string]any{
			"ticket": ticket,
		},
	})

	m.logger.Warn("escalation raised",
		zap.String("ticket_id", ticket.TicketID),
		zap.String("session_id", ticket.SessionID),
		zap.String("severity", string(ticket.Severity)),
		zap.String("cause", ticket.Cause))
	return nil
}

// buildEvidence computes the factual basis from the step log.
func buildEvidence(steps []domain.StepRecord, window int, now time.Time) domain.EscalationEvidence {
	ev := domain.EscalationEvidence{TotalSteps: len(steps)}

	start := len(steps) - window
	if start < 0 {
		start = 0
	}
	for _, s := range steps[start:] {
		ev.RecentVerdicts = append(ev.RecentVerdicts, s.Verdict)
	}

	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Verdict == domain.VerdictPositive {
			break
		}
		ev.NoProgressSteps++
	}

	if len(steps) > 0 {
		last := steps[len(steps)-1]
		ev.StallMinutes = now.Sub(last.Timestamp).Minutes()
		ev.Excerpt = excerpt(last)
	} else {
		ev.Excerpt = "no steps recorded"
	}
	return ev
}

func excerpt(s domain.StepRecord) string {
	text := fmt.Sprintf("node %s: %s (%s)", s.NodeID, s.Summary, s.Verdict)
	if len(text) > 240 {
		text = text[:240] + "..."
	}
	return strings.TrimSpace(text)
}

// assess maps evidence to a severity; an empty severity means healthy.
func assess(sess *domain.Session, ev domain.EscalationEvidence, cfg Config) (domain.Severity, string) {
	stalled := ev.StallMinutes >= cfg.StallThreshold.Minutes() && ev.TotalSteps > 0
	noProgress := cfg.VerdictWindow > 0 && ev.NoProgressSteps >= cfg.VerdictWindow

	switch {
	case sess.Status == domain.SessionFailed:
		return domain.SeverityHigh, "session failed: " + sess.Error
	case stalled && noProgress:
		return domain.SeverityCritical, "session stalled with no recent progress"
	case stalled:
		return domain.SeverityHigh, fmt.Sprintf("no step recorded for %.1f minutes", ev.StallMinutes)
	case noProgress:
		return domain.SeverityMedium, fmt.Sprintf("%d consecutive steps without a positive verdict", ev.NoProgressSteps)
	}
	return "", ""
}

func suggestedAction(severity domain.Severity) string {
	switch severity {
	case domain.SeverityCritical:
		return "page the on-call operator and inspect the session immediately"
	case domain.SeverityHigh:
		return "review the session's recent step log and consider manual intervention"
	default:
		return "watch the session; intervene if the trend continues"
	}
}
