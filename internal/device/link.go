package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/zkconnect/zkconnect-bridge/internal/models"
)

// Link owns a single connection to an attendance terminal.
//
// The link performs no silent retries: every ConnectionError surfaces to the
// monitor loop, which owns recovery.
type Link interface {
	// Connect opens a transport session to the terminal.
	Connect(ctx context.Context) error

	// NextEvent blocks for the next realtime element. It returns a punch
	// event, or (nil, nil) as an idle tick when the terminal produced
	// nothing within the idle interval. The caller uses idle ticks to
	// drive liveness probes.
	NextEvent(ctx context.Context) (*models.PunchEvent, error)

	// ProbeLiveness issues a lightweight round trip (device clock read)
	// to confirm the transport is alive without consuming an event.
	ProbeLiveness(ctx context.Context) error

	// ReEnable forces the terminal out of its disabled state. The device
	// auto-disables its access gate during some internal operations, so
	// this must run after every transmission attempt. Idempotent.
	ReEnable(ctx context.Context) error

	// Disconnect releases the transport. Safe to call more than once.
	Disconnect()
}

var errNotConnected = errors.New("connection is not established")

// ConnectionError wraps any failure of the device transport.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
