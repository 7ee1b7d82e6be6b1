package zkproto

import (
	"fmt"
	"time"
)

// EncodeTime packs a timestamp into the terminal's 32-bit calendar encoding:
// whole days since 2000-01-01 counted on a fixed 12x31 calendar, plus the
// second of day.
func EncodeTime(t time.Time) uint32 {
	days := uint32(t.Year()%100)*12*31 + uint32(t.Month()-1)*31 + uint32(t.Day()-1)
	return days*86400 + uint32(t.Hour()*3600+t.Minute()*60+t.Second())
}

// DecodeTime unpacks the terminal's 32-bit calendar encoding.
func DecodeTime(v uint32) time.Time {
	second := int(v % 60)
	v /= 60
	minute := int(v % 60)
	v /= 60
	hour := int(v % 24)
	v /= 24
	day := int(v%31) + 1
	v /= 31
	month := time.Month(v%12) + 1
	v /= 12
	year := int(v) + 2000

	return time.Date(year, month, day, hour, minute, second, 0, time.Local)
}

// DecodeTimeBytes unpacks the 6-byte timestamp layout carried by realtime
// records: year-2000, month, day, hour, minute, second.
func DecodeTimeBytes(b []byte) (time.Time, error) {
	if len(b) != 6 {
		return time.Time{}, fmt.Errorf("timestamp must be 6 bytes, got %d", len(b))
	}

	return time.Date(
		int(b[0])+2000, time.Month(b[1]), int(b[2]),
		int(b[3]), int(b[4]), int(b[5]), 0, time.Local,
	), nil
}
