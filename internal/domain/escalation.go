package domain

import (
	"fmt"
	"time"
)

// Severity grades an escalation ticket.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity rejects any value outside the closed set.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSeverity, s)
}

// EscalationEvidence is the factual basis for a ticket.
type EscalationEvidence struct {
	TotalSteps      int           `json:"total_steps"`
	RecentVerdicts  []StepVerdict `json:"recent_verdicts"`
	NoProgressSteps int           `json:"no_progress_steps"`
	StallMinutes    float64       `json:"stall_minutes"`
	Excerpt         string        `json:"excerpt"`
}

// EscalationTicket is a structured request for human attention. It is
// immutable once emitted; Validate gates every publish.
type EscalationTicket struct {
	TicketID        string             `json:"ticket_id"`
	SessionID       string             `json:"session_id"`
	GraphID         string             `json:"graph_id"`
	Severity        Severity           `json:"severity"`
	Cause           string             `json:"cause"`
	Reasoning       string             `json:"reasoning"`
	SuggestedAction string             `json:"suggested_action"`
	Evidence        EscalationEvidence `json:"evidence"`
	CreatedAt       time.Time          `json:"created_at"`
}

// Validate fails closed: a ticket with any missing required field must not be
// published.
func (t *EscalationTicket) Validate() error {
	if t.TicketID == "" {
		return fmt.Errorf("%w: ticket_id", ErrIncompleteTicket)
	}
	if t.SessionID == "" {
		return fmt.Errorf("%w: session_id", ErrIncompleteTicket)
	}
	if _, err := ParseSeverity(string(t.Severity)); err != nil {
		return err
	}
	if t.Cause == "" {
		return fmt.Errorf("%w: cause", ErrIncompleteTicket)
	}
	if t.Reasoning == "" {
		return fmt.Errorf("%w: reasoning", ErrIncompleteTicket)
	}
	if t.SuggestedAction == "" {
		return fmt.Errorf("%w: suggested_action", ErrIncompleteTicket)
	}
	if t.Evidence.Excerpt == "" {
		return fmt.Errorf("%w: evidence excerpt", ErrIncompleteTicket)
	}
	return nil
}
