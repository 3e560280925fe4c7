// Package monitor implements the worker health monitor and escalation
// protocol: a timer-driven sweep over watched sessions' step logs, a
// fail-closed EscalationTicket publish path, and an advisory triage consumer
// that can notify an operator but never touches the monitored session.
package monitor
