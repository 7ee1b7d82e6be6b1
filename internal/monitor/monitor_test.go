package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zkconnect/zkconnect-bridge/internal/device"
	"github.com/zkconnect/zkconnect-bridge/internal/ingest"
	"github.com/zkconnect/zkconnect-bridge/internal/models"
)

// MockLink is a mock implementation of device.Link.
type MockLink struct {
	mock.Mock
}

func (m *MockLink) Connect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockLink) NextEvent(ctx context.Context) (*models.PunchEvent, error) {
	args := m.Called(ctx)
	if ev := args.Get(0); ev != nil {
		return ev.(*models.PunchEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLink) ProbeLiveness(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockLink) ReEnable(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockLink) Disconnect() {
	m.Called()
}

// MockAuth is a mock implementation of ingest.Authenticator.
type MockAuth struct {
	mock.Mock
}

func (m *MockAuth) Authenticate(ctx context.Context) (ingest.Token, error) {
	args := m.Called(ctx)
	return args.Get(0).(ingest.Token), args.Error(1)
}

// MockSender is a mock implementation of ingest.Sender.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, ev models.PunchEvent, identity models.DeviceIdentity, token ingest.Token) models.TransmissionOutcome {
	args := m.Called(ctx, ev, identity, token)
	return args.Get(0).(models.TransmissionOutcome)
}

// fakeClock is an adjustable clock so tests control the day boundary.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var (
	dayOne       = time.Date(2024, 1, 1, 8, 0, 0, 0, time.Local)
	errTransport = errors.New("connection reset")
)

func punch(userID string) *models.PunchEvent {
	return &models.PunchEvent{
		UserID:    userID,
		Timestamp: dayOne,
		Punch:     models.PunchCheckIn,
		Status:    1,
	}
}

func testIdentity() models.DeviceIdentity {
	return models.DeviceIdentity{Host: "127.0.0.1", Port: 4370, MachineID: 1}
}

func newLoop(link *MockLink, auth *MockAuth, sender *MockSender, transmission bool, clock *fakeClock, stats *Stats) *Loop {
	return New(Options{
		Link:         link,
		Auth:         auth,
		Sender:       sender,
		Identity:     testIdentity(),
		Transmission: transmission,
		Stats:        stats,
		Logger:       zerolog.Nop(),
		Now:          clock.Now,
	})
}

func TestLoopTransmitsAndStopsAtRollover(t *testing.T) {
	link := &MockLink{}
	auth := &MockAuth{}
	sender := &MockSender{}
	clock := newFakeClock(dayOne)
	stats := NewStats()

	token := ingest.Token{Cookie: "session_id=x"}
	delivered := models.TransmissionOutcome{Kind: models.OutcomeDelivered, HTTPStatus: 200}

	link.On("Connect", mock.Anything).Return(nil).Once()
	link.On("NextEvent", mock.Anything).Return(punch("1"), nil).Once()
	link.On("NextEvent", mock.Anything).Return(punch("2"), nil).Once()
	link.On("NextEvent", mock.Anything).Return(punch("3"), nil).Once().Run(func(mock.Arguments) {
		clock.Advance(24 * time.Hour)
	})
	link.On("ReEnable", mock.Anything).Return(nil).Times(3)
	link.On("Disconnect").Return().Maybe()

	auth.On("Authenticate", mock.Anything).Return(token, nil).Times(3)
	sender.On("Send", mock.Anything, mock.Anything, testIdentity(), token).Return(delivered).Times(3)

	loop := newLoop(link, auth, sender, true, clock, stats)
	reason, err := loop.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StopRollover, reason)
	sender.AssertNumberOfCalls(t, "Send", 3)
	link.AssertNumberOfCalls(t, "ReEnable", 3)
	assert.Equal(t, uint64(3), stats.Snapshot().Counters["delivered"])
}

func TestLoopTransmissionDisabled(t *testing.T) {
	link := &MockLink{}
	auth := &MockAuth{}
	sender := &MockSender{}
	clock := newFakeClock(dayOne)
	stats := NewStats()

	link.On("Connect", mock.Anything).Return(nil).Once()
	link.On("NextEvent", mock.Anything).Return(punch("1"), nil).Once()
	link.On("NextEvent", mock.Anything).Return(punch("2"), nil).Once().Run(func(mock.Arguments) {
		clock.Advance(24 * time.Hour)
	})
	link.On("Disconnect").Return().Maybe()

	loop := newLoop(link, auth, sender, false, clock, stats)
	reason, err := loop.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StopRollover, reason)
	auth.AssertNotCalled(t, "Authenticate", mock.Anything)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	link.AssertNotCalled(t, "ReEnable", mock.Anything)
	assert.Equal(t, uint64(2), stats.Snapshot().Counters["observed"])
}

func TestLoopReEnablesAfterFailedSend(t *testing.T) {
	link := &MockLink{}
	auth := &MockAuth{}
	sender := &MockSender{}
	clock := newFakeClock(dayOne)
	stats := NewStats()

	failed := models.TransmissionOutcome{Kind: models.OutcomeTransportFailed, Cause: errTransport}

	link.On("Connect", mock.Anything).Return(nil).Once()
	link.On("NextEvent", mock.Anything).Return(punch("1"), nil).Once().Run(func(mock.Arguments) {
		clock.Advance(24 * time.Hour)
	})
	link.On("ReEnable", mock.Anything).Return(nil).Once()
	link.On("Disconnect").Return().Maybe()

	auth.On("Authenticate", mock.Anything).Return(ingest.Token{}, nil).Once()
	sender.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(failed).Once()

	loop := newLoop(link, auth, sender, true, clock, stats)
	reason, err := loop.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StopRollover, reason, "a failed transmission must not terminate the run")
	link.AssertNumberOfCalls(t, "ReEnable", 1)
	assert.Equal(t, uint64(1), stats.Snapshot().Counters["transportFailed"])
}

func TestLoopReEnablesAfterAuthFailure(t *testing.T) {
	link := &MockLink{}
	auth := &MockAuth{}
	sender := &MockSender{}
	clock := newFakeClock(dayOne)
	stats := NewStats()

	link.On("Connect", mock.Anything).Return(nil).Once()
	link.On("NextEvent", mock.Anything).Return(punch("1"), nil).Once().Run(func(mock.Arguments) {
		clock.Advance(24 * time.Hour)
	})
	link.On("ReEnable", mock.Anything).Return(nil).Once()
	link.On("Disconnect").Return().Maybe()

	auth.On("Authenticate", mock.Anything).Return(ingest.Token{}, &ingest.AuthError{Rejected: true, Status: 401}).Once()

	loop := newLoop(link, auth, sender, true, clock, stats)
	reason, err := loop.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StopRollover, reason)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	link.AssertNumberOfCalls(t, "ReEnable", 1)
	assert.Equal(t, uint64(1), stats.Snapshot().Counters["authFailed"])
}

func TestLoopInitialConnectFailureIsFatal(t *testing.T) {
	link := &MockLink{}
	auth := &MockAuth{}
	sender := &MockSender{}
	clock := newFakeClock(dayOne)

	link.On("Connect", mock.Anything).Return(&device.ConnectionError{Op: "dial", Err: errTransport}).Once()

	loop := newLoop(link, auth, sender, true, clock, NewStats())
	reason, err := loop.Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, StopFatal, reason)
	auth.AssertNotCalled(t, "Authenticate", mock.Anything)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLoopProbeFailureTriggersOneReconnect(t *testing.T) {
	link := &MockLink{}
	auth := &MockAuth{}
	sender := &MockSender{}
	clock := newFakeClock(dayOne)
	stats := NewStats()

	probeErr := &device.ConnectionError{Op: "probe", Err: errTransport}

	link.On("Connect", mock.Anything).Return(nil).Twice()
	link.On("NextEvent", mock.Anything).Return(nil, nil).Once() // idle tick
	link.On("ProbeLiveness", mock.Anything).Return(probeErr).Once()
	link.On("NextEvent", mock.Anything).Return(punch("1"), nil).Once().Run(func(mock.Arguments) {
		clock.Advance(24 * time.Hour)
	})
	link.On("Disconnect").Return()

	loop := newLoop(link, auth, sender, false, clock, stats)
	reason, err := loop.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StopRollover, reason, "streaming must resume after a successful reconnect")
	link.AssertNumberOfCalls(t, "Connect", 2)

	snap := stats.Snapshot()
	assert.Equal(t, uint64(1), snap.Counters["reconnects"])
	assert.Equal(t, uint64(1), snap.Counters["punches"], "no event may be lost across the reconnect")
}

func TestLoopReconnectFailureIsFatal(t *testing.T) {
	link := &MockLink{}
	auth := &MockAuth{}
	sender := &MockSender{}
	clock := newFakeClock(dayOne)

	probeErr := &device.ConnectionError{Op: "probe", Err: errTransport}
	dialErr := &device.ConnectionError{Op: "dial", Err: errTransport}

	link.On("Connect", mock.Anything).Return(nil).Once()
	link.On("NextEvent", mock.Anything).Return(nil, nil).Once()
	link.On("ProbeLiveness", mock.Anything).Return(probeErr).Once()
	link.On("Connect", mock.Anything).Return(dialErr).Once()
	link.On("Disconnect").Return()

	loop := newLoop(link, auth, sender, false, clock, NewStats())
	reason, err := loop.Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, StopFatal, reason)
	link.AssertNumberOfCalls(t, "Connect", 2)
}

// recordingArchiver captures archived punches in memory.
type recordingArchiver struct {
	mu   sync.Mutex
	recs []*models.PunchRecord
}

func (a *recordingArchiver) CreatePunch(_ context.Context, rec *models.PunchRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return nil
}

// recordingPublisher captures published punches in memory.
type recordingPublisher struct {
	mu  sync.Mutex
	evs []models.PunchEvent
}

func (p *recordingPublisher) PublishPunch(_ context.Context, ev models.PunchEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evs = append(p.evs, ev)
	return nil
}

func TestLoopArchivesAndPublishes(t *testing.T) {
	link := &MockLink{}
	clock := newFakeClock(dayOne)
	archiver := &recordingArchiver{}
	publisher := &recordingPublisher{}

	link.On("Connect", mock.Anything).Return(nil).Once()
	link.On("NextEvent", mock.Anything).Return(punch("77"), nil).Once().Run(func(mock.Arguments) {
		clock.Advance(24 * time.Hour)
	})
	link.On("Disconnect").Return().Maybe()

	loop := New(Options{
		Link:      link,
		Identity:  testIdentity(),
		Publisher: publisher,
		Archiver:  archiver,
		Logger:    zerolog.Nop(),
		Now:       clock.Now,
	})

	reason, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopRollover, reason)

	require.Len(t, archiver.recs, 1)
	assert.Equal(t, "77", archiver.recs[0].UserID)
	assert.Equal(t, models.OutcomeObserved, archiver.recs[0].Outcome)
	assert.Equal(t, 1, archiver.recs[0].MachineID)

	require.Len(t, publisher.evs, 1)
	assert.Equal(t, "77", publisher.evs[0].UserID)
}
