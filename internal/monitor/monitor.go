package monitor

import (
	"context"
	"time"

	retry "github.com/codeGROOVE-dev/retry-go"
	"github.com/rs/zerolog"

	"github.com/zkconnect/zkconnect-bridge/internal/device"
	"github.com/zkconnect/zkconnect-bridge/internal/ingest"
	"github.com/zkconnect/zkconnect-bridge/internal/models"
)

// StopReason classifies why a run ended. Rollover is the only successful
// termination path; the process wrapper maps it to exit code 0 so the
// supervisor restarts with a fresh log file.
type StopReason string

const (
	StopRollover StopReason = "rollover"
	StopFatal    StopReason = "fatal"
)

// Publisher fans a captured punch out to the internal event bus.
type Publisher interface {
	PublishPunch(ctx context.Context, ev models.PunchEvent) error
}

// Archiver persists a processed punch for the ops API.
type Archiver interface {
	CreatePunch(ctx context.Context, rec *models.PunchRecord) error
}

// Options wires a monitor loop.
type Options struct {
	Link     device.Link
	Auth     ingest.Authenticator
	Sender   ingest.Sender
	Identity models.DeviceIdentity

	// Transmission toggles forwarding; when false punches are only
	// observed and no network call is made.
	Transmission bool

	// ConnectAttempts bounds initial connect and reconnect tries.
	// 1 preserves the original single-attempt behavior.
	ConnectAttempts uint
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration

	// Optional collaborators.
	Publisher Publisher
	Archiver  Archiver
	Stats     *Stats

	Logger zerolog.Logger

	// Now is the clock; tests substitute it.
	Now func() time.Time
}

// Loop drives the device event stream: punches go to the transmitter, idle
// ticks trigger liveness probes, and the rollover guard is consulted after
// every element.
type Loop struct {
	opts      Options
	stats     *Stats
	log       zerolog.Logger
	now       func() time.Time
	startedAt time.Time
}

// New creates a monitor loop.
func New(opts Options) *Loop {
	if opts.ConnectAttempts == 0 {
		opts.ConnectAttempts = 1
	}
	if opts.Stats == nil {
		opts.Stats = NewStats()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Loop{
		opts:  opts,
		stats: opts.Stats,
		log:   opts.Logger,
		now:   opts.Now,
	}
}

// Run executes the monitoring session until the day rolls over or a fatal
// failure occurs. Transmission and authentication failures never terminate
// the run; they are logged and the device is re-enabled before the next
// event is pulled.
func (l *Loop) Run(ctx context.Context) (StopReason, error) {
	l.startedAt = l.now()
	l.stats.setStarted(l.startedAt)

	l.stats.setState(StateConnecting)
	if err := l.connect(ctx); err != nil {
		l.stats.setState(StateStopped)
		l.stats.observeError(err)
		return StopFatal, err
	}
	defer l.opts.Link.Disconnect()

	l.stats.setState(StateStreaming)
	l.log.Info().Msg("monitoring started")

	for {
		if err := ctx.Err(); err != nil {
			l.stats.setState(StateStopped)
			return StopFatal, err
		}

		ev, err := l.opts.Link.NextEvent(ctx)
		switch {
		case err != nil:
			l.log.Error().Err(err).Msg("event stream broken")
			if rerr := l.reconnect(ctx); rerr != nil {
				l.stats.setState(StateStopped)
				return StopFatal, rerr
			}

		case ev == nil:
			l.stats.observeIdleTick()
			if perr := l.opts.Link.ProbeLiveness(ctx); perr != nil {
				l.log.Error().Err(perr).Msg("liveness probe failed")
				if rerr := l.reconnect(ctx); rerr != nil {
					l.stats.setState(StateStopped)
					return StopFatal, rerr
				}
			}

		default:
			l.handlePunch(ctx, ev)
		}

		if shouldStop(l.startedAt, l.now()) {
			l.stats.setState(StateStopped)
			l.log.Info().Msg("day boundary reached, stopping for log rollover")
			return StopRollover, nil
		}
	}
}

// connect attempts to establish the device session, bounded by the
// configured attempt count with exponential backoff between tries.
func (l *Loop) connect(ctx context.Context) error {
	return retry.Do(func() error {
		return l.opts.Link.Connect(ctx)
	}, retry.Attempts(l.opts.ConnectAttempts), retry.Delay(l.opts.InitialBackoff), retry.MaxDelay(l.opts.MaxBackoff))
}

// reconnect tears the session down and tries to establish it again. A
// failure here is fatal to the run.
func (l *Loop) reconnect(ctx context.Context) error {
	l.stats.setState(StateReconnecting)
	l.stats.observeReconnect()
	l.log.Debug().Msg("initiating reconnection")

	l.opts.Link.Disconnect()
	if err := l.connect(ctx); err != nil {
		l.stats.observeError(err)
		return err
	}

	l.stats.setState(StateStreaming)
	return nil
}

func (l *Loop) handlePunch(ctx context.Context, ev *models.PunchEvent) {
	l.stats.observePunch(ev, l.now())
	l.log.Info().
		Str("userId", ev.UserID).
		Str("punch", ev.Punch.String()).
		Time("timestamp", ev.Timestamp).
		Msg("punch captured")

	if l.opts.Publisher != nil {
		if err := l.opts.Publisher.PublishPunch(ctx, *ev); err != nil {
			l.log.Warn().Err(err).Msg("bus publish failed")
		}
	}

	var outcome models.TransmissionOutcome
	if l.opts.Transmission {
		outcome = l.transmit(ctx, ev)
	} else {
		outcome = models.TransmissionOutcome{Kind: models.OutcomeObserved}
		l.log.Debug().Str("userId", ev.UserID).Msg("transmission disabled, punch observed")
	}
	l.stats.observeOutcome(outcome.Kind)

	if l.opts.Archiver != nil {
		rec := &models.PunchRecord{
			UserID:     ev.UserID,
			Punch:      ev.Punch,
			Status:     ev.Status,
			Timestamp:  ev.Timestamp,
			MachineID:  l.opts.Identity.MachineID,
			Outcome:    outcome.Kind,
			HTTPStatus: outcome.HTTPStatus,
		}
		if err := l.opts.Archiver.CreatePunch(ctx, rec); err != nil {
			l.log.Warn().Err(err).Msg("punch archive failed")
		}
	}
}

// transmit fetches a fresh session token and posts the punch. Whatever the
// outcome, the device re-enable runs before control returns to the loop:
// the terminal's access gate must end up enabled after every attempt.
func (l *Loop) transmit(ctx context.Context, ev *models.PunchEvent) (outcome models.TransmissionOutcome) {
	defer func() {
		if err := l.opts.Link.ReEnable(ctx); err != nil {
			l.log.Warn().Err(err).Msg("device re-enable failed")
		}
	}()

	token, err := l.opts.Auth.Authenticate(ctx)
	if err != nil {
		l.stats.observeError(err)
		l.log.Error().Err(err).Str("userId", ev.UserID).Msg("could not obtain session token")
		return models.TransmissionOutcome{Kind: models.OutcomeAuthFailed, Cause: err}
	}

	outcome = l.opts.Sender.Send(ctx, *ev, l.opts.Identity, token)
	if outcome.Delivered() {
		l.log.Info().
			Str("userId", ev.UserID).
			Int("status", outcome.HTTPStatus).
			Msg("punch transmitted")
	} else {
		if outcome.Cause != nil {
			l.stats.observeError(outcome.Cause)
		}
		l.log.Error().
			Str("kind", string(outcome.Kind)).
			Int("status", outcome.HTTPStatus).
			Str("userId", ev.UserID).
			Msg("punch transmission failed")
	}

	return outcome
}
