package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/zkconnect/zkconnect-bridge/internal/models"
	"github.com/zkconnect/zkconnect-bridge/pkg/zkproto"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultIdleInterval = 10 * time.Second

	// commKeyTicks is the tick byte mixed into the comm-key digest.
	commKeyTicks = 50

	readBufferSize = 1024
)

// ZKLink implements Link over the terminal's UDP protocol.
// Not safe for concurrent use; the monitor loop is the single owner.
type ZKLink struct {
	identity models.DeviceIdentity
	commKey  uint32
	timeout  time.Duration
	idle     time.Duration
	log      zerolog.Logger

	conn      *net.UDPConn
	sessionID uint16
	replyID   uint16
	buf       []byte

	// realtime events that arrived while waiting for a command reply
	pending []*models.PunchEvent
}

// NewZKLink creates a link to the terminal described by identity.
// Zero durations fall back to the defaults.
func NewZKLink(identity models.DeviceIdentity, commKey uint32, timeout, idle time.Duration, logger zerolog.Logger) *ZKLink {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if idle <= 0 {
		idle = defaultIdleInterval
	}

	return &ZKLink{
		identity: identity,
		commKey:  commKey,
		timeout:  timeout,
		idle:     idle,
		log:      logger,
		buf:      make([]byte, readBufferSize),
	}
}

// Connect dials the terminal, performs the handshake (including comm-key
// authentication when the device demands it), re-enables the access gate and
// subscribes to realtime attendance events.
func (l *ZKLink) Connect(ctx context.Context) error {
	l.Disconnect()

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(l.identity.Host, strconv.Itoa(l.identity.Port)))
	if err != nil {
		return &ConnectionError{Op: "resolve", Err: err}
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return &ConnectionError{Op: "dial", Err: err}
	}

	l.conn = conn
	l.sessionID = 0
	l.replyID = 0
	l.pending = nil

	resp, err := l.roundTrip(ctx, zkproto.CmdConnect, nil)
	if err != nil {
		l.closeConn()
		return err
	}
	l.sessionID = resp.SessionID

	// 设备要求通讯密码认证
	if resp.Command == zkproto.CmdAckUnauth {
		key := zkproto.CommKey(l.commKey, l.sessionID, commKeyTicks)
		resp, err = l.roundTrip(ctx, zkproto.CmdAuth, key)
		if err != nil {
			l.closeConn()
			return err
		}
	}
	if !resp.Ack() {
		l.closeConn()
		return &ConnectionError{Op: "connect", Err: fmt.Errorf("handshake rejected with command %d", resp.Command)}
	}

	if err := l.ReEnable(ctx); err != nil {
		l.closeConn()
		return err
	}

	// 订阅实时考勤事件
	flag := make([]byte, 4)
	binary.LittleEndian.PutUint32(flag, zkproto.EFAttLog)
	resp, err = l.roundTrip(ctx, zkproto.CmdRegEvent, flag)
	if err != nil {
		l.closeConn()
		return err
	}
	if !resp.Ack() {
		l.closeConn()
		return &ConnectionError{Op: "reg-event", Err: fmt.Errorf("subscription rejected with command %d", resp.Command)}
	}

	l.log.Info().
		Str("host", l.identity.Host).
		Int("port", l.identity.Port).
		Msg("connection established")

	return nil
}

// NextEvent blocks until the terminal produces a punch or the idle interval
// expires. An expired idle interval is the (nil, nil) idle tick.
func (l *ZKLink) NextEvent(ctx context.Context) (*models.PunchEvent, error) {
	if len(l.pending) > 0 {
		ev := l.pending[0]
		l.pending = l.pending[1:]
		return ev, nil
	}

	if l.conn == nil {
		return nil, &ConnectionError{Op: "recv", Err: errNotConnected}
	}

	deadline := time.Now().Add(l.idle)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := l.conn.SetReadDeadline(deadline); err != nil {
		return nil, &ConnectionError{Op: "recv", Err: err}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, &ConnectionError{Op: "recv", Err: err}
		}

		n, err := l.conn.Read(l.buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, nil
			}
			return nil, &ConnectionError{Op: "recv", Err: err}
		}

		pkt, err := zkproto.DecodePacket(l.buf[:n])
		if err != nil {
			l.log.Warn().Err(err).Msg("dropping malformed packet")
			continue
		}
		if pkt.Command != zkproto.CmdRegEvent {
			l.log.Debug().Uint16("command", pkt.Command).Msg("ignoring non-event packet")
			continue
		}

		ev, err := decodePunch(pkt.Data)
		if err != nil {
			l.log.Warn().Err(err).Msg("dropping undecodable attendance record")
			continue
		}
		return ev, nil
	}
}

// ProbeLiveness reads the device clock to confirm the transport is alive.
func (l *ZKLink) ProbeLiveness(ctx context.Context) error {
	resp, err := l.roundTrip(ctx, zkproto.CmdGetTime, nil)
	if err != nil {
		return err
	}
	if !resp.Ack() || len(resp.Data) < 4 {
		return &ConnectionError{Op: "probe", Err: fmt.Errorf("unexpected reply command %d", resp.Command)}
	}

	deviceTime := zkproto.DecodeTime(binary.LittleEndian.Uint32(resp.Data[:4]))
	l.log.Debug().Time("deviceTime", deviceTime).Msg("liveness probe ok")

	return nil
}

// ReEnable forces the terminal's access gate back to enabled.
func (l *ZKLink) ReEnable(ctx context.Context) error {
	resp, err := l.roundTrip(ctx, zkproto.CmdEnableDevice, nil)
	if err != nil {
		return err
	}
	if !resp.Ack() {
		return &ConnectionError{Op: "enable", Err: fmt.Errorf("enable rejected with command %d", resp.Command)}
	}
	return nil
}

// Disconnect sends a best-effort exit command and releases the socket.
func (l *ZKLink) Disconnect() {
	if l.conn == nil {
		return
	}

	// 尽力通知设备退出，失败也要关闭套接字
	if _, err := l.roundTrip(context.Background(), zkproto.CmdExit, nil); err != nil {
		l.log.Debug().Err(err).Msg("exit command failed during disconnect")
	}
	l.closeConn()

	l.log.Info().
		Str("host", l.identity.Host).
		Int("port", l.identity.Port).
		Msg("disconnected")
}

func (l *ZKLink) closeConn() {
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}

// roundTrip sends one command and waits for its reply. Realtime events that
// interleave with the reply are stashed and surfaced by the next NextEvent
// call, so no punch is lost during probes or cleanup commands.
func (l *ZKLink) roundTrip(ctx context.Context, cmd uint16, data []byte) (*zkproto.Packet, error) {
	if l.conn == nil {
		return nil, &ConnectionError{Op: "send", Err: errNotConnected}
	}

	l.replyID = (l.replyID + 1) % zkproto.MaxUint16
	pkt := zkproto.EncodePacket(cmd, l.sessionID, l.replyID, data)

	deadline := time.Now().Add(l.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := l.conn.SetWriteDeadline(deadline); err != nil {
		return nil, &ConnectionError{Op: "send", Err: err}
	}
	if _, err := l.conn.Write(pkt); err != nil {
		return nil, &ConnectionError{Op: "send", Err: err}
	}

	if err := l.conn.SetReadDeadline(deadline); err != nil {
		return nil, &ConnectionError{Op: "recv", Err: err}
	}
	for {
		n, err := l.conn.Read(l.buf)
		if err != nil {
			return nil, &ConnectionError{Op: "recv", Err: err}
		}

		resp, err := zkproto.DecodePacket(l.buf[:n])
		if err != nil {
			l.log.Warn().Err(err).Msg("dropping malformed packet")
			continue
		}

		if resp.Command == zkproto.CmdRegEvent {
			if ev, err := decodePunch(resp.Data); err == nil {
				l.pending = append(l.pending, ev)
			} else {
				l.log.Warn().Err(err).Msg("dropping undecodable attendance record")
			}
			continue
		}

		return resp, nil
	}
}

func decodePunch(data []byte) (*models.PunchEvent, error) {
	rec, err := zkproto.DecodeAttLog(data)
	if err != nil {
		return nil, err
	}

	return &models.PunchEvent{
		UserID:    rec.UserID,
		Timestamp: rec.Timestamp,
		Punch:     models.PunchType(rec.Punch),
		Status:    rec.Status,
	}, nil
}
