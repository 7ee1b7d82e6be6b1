package models

import (
	"time"

	"github.com/google/uuid"
)

// DeviceIdentity identifies the physical terminal a session belongs to.
// Immutable after construction.
type DeviceIdentity struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	MachineID int    `json:"machineId"`
}

// PunchType represents the punch code reported by the terminal.
type PunchType uint8

const (
	PunchCheckIn     PunchType = 0
	PunchCheckOut    PunchType = 1
	PunchBreakOut    PunchType = 2
	PunchBreakIn     PunchType = 3
	PunchOvertimeIn  PunchType = 4
	PunchOvertimeOut PunchType = 5
)

// String returns a human readable punch type name.
func (p PunchType) String() string {
	switch p {
	case PunchCheckIn:
		return "CHECK_IN"
	case PunchCheckOut:
		return "CHECK_OUT"
	case PunchBreakOut:
		return "BREAK_OUT"
	case PunchBreakIn:
		return "BREAK_IN"
	case PunchOvertimeIn:
		return "OVERTIME_IN"
	case PunchOvertimeOut:
		return "OVERTIME_OUT"
	default:
		return "UNKNOWN"
	}
}

// PunchEvent is a single attendance record captured from the terminal.
// Immutable value, consumed exactly once by the transmitter.
type PunchEvent struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
	Punch     PunchType `json:"punch"`
	Status    uint8     `json:"status"`
}

// TimestampUTC returns the event time as an ISO-8601 string in UTC,
// the format the ingestion API expects.
func (e PunchEvent) TimestampUTC() string {
	return e.Timestamp.UTC().Format(time.RFC3339)
}

// OutcomeKind classifies the result of one transmission attempt.
type OutcomeKind string

const (
	OutcomeDelivered       OutcomeKind = "DELIVERED"
	OutcomeAuthFailed      OutcomeKind = "AUTH_FAILED"
	OutcomeTransportFailed OutcomeKind = "TRANSPORT_FAILED"
	OutcomeRejected        OutcomeKind = "REJECTED"

	// OutcomeObserved marks archived punches that were never transmitted
	// because transmission is disabled by configuration.
	OutcomeObserved OutcomeKind = "OBSERVED"
)

// TransmissionOutcome is the result of posting one punch to the ingestion
// endpoint. It is returned, never raised: the monitor loop consumes it for
// logging and the guaranteed device re-enable, nothing else.
type TransmissionOutcome struct {
	Kind       OutcomeKind `json:"kind"`
	HTTPStatus int         `json:"httpStatus,omitempty"`
	Body       string      `json:"body,omitempty"`
	Cause      error       `json:"-"`
}

// Delivered reports whether the punch reached the ingestion endpoint.
func (o TransmissionOutcome) Delivered() bool {
	return o.Kind == OutcomeDelivered
}

// PunchRecord is an archived punch row.
type PunchRecord struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	CreatedAt  time.Time   `json:"createdAt" db:"created_at"`
	UserID     string      `json:"userId" db:"user_id"`
	Punch      PunchType   `json:"punch" db:"punch"`
	Status     uint8       `json:"status" db:"status"`
	Timestamp  time.Time   `json:"timestamp" db:"timestamp"`
	MachineID  int         `json:"machineId" db:"machine_id"`
	Outcome    OutcomeKind `json:"outcome" db:"outcome"`
	HTTPStatus int         `json:"httpStatus" db:"http_status"`
}
