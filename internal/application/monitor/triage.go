package monitor

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain"
	"github.com/strandlabs/strand/internal/ports"
)

// Triage consumes escalation tickets, deliberates, and either drops them or
// emits an operator-notification event. It is strictly advisory: it never
// pauses or cancels the monitored session. Each ticket is reasoned about in
// an isolated memory scope so one escalation never leaks into another.
type Triage struct {
	bus    ports.EventBus
	logger *zap.Logger
	// NotifyAbove is the lowest severity that produces a notification.
	notifyAbove domain.Severity

	subID string
}

// NewTriage creates a triage consumer notifying at or above notifyAbove.
func NewTriage(bus ports.EventBus, logger *zap.Logger, notifyAbove domain.Severity) *Triage {
	return &Triage{bus: bus, logger: logger, notifyAbove: notifyAbove}
}

// Start subscribes to escalation events.
func (t *Triage) Start() error {
	subID, err := t.bus.Subscribe(
		[]domain.EventType{domain.EventEscalationRaised},
		t.handle,
		nil,
	)
	if err != nil {
		return fmt.Errorf("triage failed to subscribe: %w", err)
	}
	t.subID = subID
	return nil
}

// Stop unsubscribes.
func (t *Triage) Stop() {
	if t.subID != "" {
		t.bus.Unsubscribe(t.subID)
	}
}

func (t *Triage) handle(ctx context.Context, event domain.Event) error {
	ticket, err := decodeTicket(event)
	if err != nil {
		return err
	}

	// Fresh scope per ticket; nothing carries over between deliberations.
	scope := make(domain.Memory)
	scope["ticket_id"] = ticket.TicketID
	scope["severity"] = string(ticket.Severity)
	scope["notify"] = severityRank(ticket.Severity) >= severityRank(t.notifyAbove)

	if scope["notify"] != true {
		t.logger.Info("escalation triaged as drop",
			zap.String("ticket_id", ticket.TicketID),
			zap.String("severity", string(ticket.Severity)))
		return nil
	}

	t.bus.Emit(ctx, domain.Event{
		Type:        domain.EventOperatorNotified,
		GraphID:     GraphID,
		StreamID:    ticket.SessionID,
		ExecutionID: ticket.TicketID,
		Payload: map[string]any{
			"ticket_id":        ticket.TicketID,
			"severity":         string(ticket.Severity),
			"cause":            ticket.Cause,
			"suggested_action": ticket.SuggestedAction,
		},
	})

	t.logger.Info("operator notified",
		zap.String("ticket_id", ticket.TicketID),
		zap.String("severity", string(ticket.Severity)))
	return nil
}

// decodeTicket extracts the ticket from an event payload. Tickets that
// arrive over the wire re-validate at this boundary; an invalid severity is
// rejected with domain.ErrInvalidSeverity.
func decodeTicket(event domain.Event) (*domain.EscalationTicket, error) {
	raw, ok := event.Payload["ticket"]
	if !ok {
		return nil, fmt.Errorf("escalation event %s has no ticket payload", event.ID)
	}

	switch v := raw.(type) {
	case *domain.EscalationTicket:
		if err := v.Validate(); err != nil {
			return nil, err
		}
		return v, nil
	default:
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("malformed ticket payload: %w", err)
		}
		var ticket domain.EscalationTicket
		if err := json.Unmarshal(data, &ticket); err != nil {
			return nil, fmt.Errorf("malformed ticket payload: %w", err)
		}
		if err := ticket.Validate(); err != nil {
			return nil, err
		}
		return &ticket, nil
	}
}

func severityRank(s domain.Severity) int {
	switch s {
	case domain.SeverityLow:
		return 0
	case domain.SeverityMedium:
		return 1
	case domain.SeverityHigh:
		return 2
	case domain.SeverityCritical:
		return 3
	}
	return -1
}
