// Package schedulererrors contains the error types returned by the scheduling
// core. Errors scoped to a single ticket (invalid metadata, a failed trigger
// call, a failed read or write of one object) must never abort a scheduling
// pass; errors scoped to configuration or to the store as a whole must.
// Callers distinguish the two with errors.As.
package schedulererrors

import (
	"fmt"
)

// ErrInvalidJobMetadata indicates that a ticket body or an image identifier
// could not be interpreted. The ticket is skipped with a warning.
type ErrInvalidJobMetadata struct {
	TicketKey string // key of the offending ticket, if known
	Field     string // field or property that failed validation
	Message   string // optional detail
}

func (err *ErrInvalidJobMetadata) Error() (s string) {
	if err.Field != "" {
		s = fmt.Sprintf("invalid job metadata in ticket %q: field %q", err.TicketKey, err.Field)
	} else {
		s = fmt.Sprintf("invalid job metadata in ticket %q", err.TicketKey)
	}
	if err.Message != "" {
		s = s + fmt.Sprintf("; %s", err.Message)
	}
	return
}

// ErrUnknownResourceClass indicates a quota table miss. Since the quota table
// is static configuration, this is a misconfiguration and aborts the pass.
type ErrUnknownResourceClass struct {
	ResourceClass string
	JobKind       string
}

func (err *ErrUnknownResourceClass) Error() string {
	return fmt.Sprintf("no quota configured for resource class %q and job kind %q", err.ResourceClass, err.JobKind)
}

// ErrTriggerFailure indicates that the external execution service rejected a
// start request. All trigger failures are soft: the ticket is routed to the
// retry policy rather than lost or escalated.
type ErrTriggerFailure struct {
	Project string // execution project the start was issued against
	Reason  string // failure category, e.g. "invalid-input" or "account-limit"
	Message string
}

func (err *ErrTriggerFailure) Error() (s string) {
	s = fmt.Sprintf("failed to trigger execution on project %q", err.Project)
	if err.Reason != "" {
		s = s + fmt.Sprintf(" (%s)", err.Reason)
	}
	if err.Message != "" {
		s = s + fmt.Sprintf(": %s", err.Message)
	}
	return
}

// ErrStoreUnavailable indicates the durable store cannot be reached at all,
// e.g. listing the queue namespace failed. Systemic and fatal to the pass.
type ErrStoreUnavailable struct {
	Operation string // store operation that failed, e.g. "list"
	Message   string
}

func (err *ErrStoreUnavailable) Error() string {
	return fmt.Sprintf("object store unavailable during %s: %s", err.Operation, err.Message)
}
