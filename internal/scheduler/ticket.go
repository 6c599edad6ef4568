package scheduler

import (
	"encoding/json"
	"time"

	"github.com/dlctest/ticketscheduler/internal/common/schedulererrors"
)

// Ticket is the JSON body of a pending request. Field names are part of the
// wire contract with the request producer and must not change.
type Ticket struct {
	ImageURI        string `json:"ECR-URI"`
	BuildContext    string `json:"CONTEXT"`
	ReturnQueueURL  string `json:"RETURN-SQS-URL"`
	SchedulingTries int    `json:"SCHEDULING_TRIES"`
	Instances       int    `json:"INSTANCES_NUM"`
	Timestamp       string `json:"TIMESTAMP"`
	TimeoutLimit    int    `json:"TIMEOUT_LIMIT"`
}

var requiredTicketFields = []string{
	"ECR-URI", "CONTEXT", "RETURN-SQS-URL", "SCHEDULING_TRIES", "INSTANCES_NUM", "TIMESTAMP", "TIMEOUT_LIMIT",
}

// UnmarshalTicket decodes and validates a ticket body. All fields are
// required; tickets written by older producers that omit any of them are
// rejected rather than defaulted.
func UnmarshalTicket(key string, body []byte) (*Ticket, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, &schedulererrors.ErrInvalidJobMetadata{TicketKey: key, Message: err.Error()}
	}
	for _, field := range requiredTicketFields {
		if _, ok := fields[field]; !ok {
			return nil, &schedulererrors.ErrInvalidJobMetadata{TicketKey: key, Field: field, Message: "missing"}
		}
	}
	var ticket Ticket
	if err := json.Unmarshal(body, &ticket); err != nil {
		return nil, &schedulererrors.ErrInvalidJobMetadata{TicketKey: key, Message: err.Error()}
	}
	if ticket.Instances <= 0 {
		return nil, &schedulererrors.ErrInvalidJobMetadata{TicketKey: key, Field: "INSTANCES_NUM", Message: "must be positive"}
	}
	if ticket.SchedulingTries < 0 {
		return nil, &schedulererrors.ErrInvalidJobMetadata{TicketKey: key, Field: "SCHEDULING_TRIES", Message: "must be non-negative"}
	}
	if ticket.TimeoutLimit <= 0 {
		return nil, &schedulererrors.ErrInvalidJobMetadata{TicketKey: key, Field: "TIMEOUT_LIMIT", Message: "must be positive"}
	}
	if _, err := time.ParseInLocation(TimestampLayout, ticket.Timestamp, time.UTC); err != nil {
		return nil, &schedulererrors.ErrInvalidJobMetadata{TicketKey: key, Field: "TIMESTAMP", Message: err.Error()}
	}
	return &ticket, nil
}

func (t *Ticket) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

// CreatedAt returns the creation time recorded in the ticket body.
func (t *Ticket) CreatedAt() time.Time {
	createdAt, _ := time.ParseInLocation(TimestampLayout, t.Timestamp, time.UTC)
	return createdAt
}

// Timeout returns the ticket's scheduling deadline as a duration from CreatedAt.
func (t *Ticket) Timeout() time.Duration {
	return time.Duration(t.TimeoutLimit) * time.Second
}
