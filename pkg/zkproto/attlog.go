package zkproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"
)

// AttLog is one realtime attendance record as decoded off the wire.
type AttLog struct {
	UserID    string
	Status    uint8
	Punch     uint8
	Timestamp time.Time
}

// DecodeAttLog parses the payload of a realtime attendance event.
// Firmware generations use different record sizes; the known layouts are
// 12 bytes (numeric user id) and 32/36/52 bytes (24-byte padded user id),
// all ending with status, punch and a 6-byte timestamp.
func DecodeAttLog(data []byte) (*AttLog, error) {
	switch {
	case len(data) == 12:
		uid := binary.LittleEndian.Uint32(data[0:4])
		ts, err := DecodeTimeBytes(data[6:12])
		if err != nil {
			return nil, err
		}
		return &AttLog{
			UserID:    strconv.FormatUint(uint64(uid), 10),
			Status:    data[4],
			Punch:     data[5],
			Timestamp: ts,
		}, nil

	case len(data) == 32 || len(data) == 36 || len(data) >= 52:
		// 32 字节之后是填充
		ts, err := DecodeTimeBytes(data[26:32])
		if err != nil {
			return nil, err
		}
		return &AttLog{
			UserID:    decodeUserID(data[0:24]),
			Status:    data[24],
			Punch:     data[25],
			Timestamp: ts,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported attendance record size: %d", len(data))
	}
}

// decodeUserID trims the NUL padding off a fixed-width user id field.
func decodeUserID(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
