package zkproto

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed size of a UDP packet header:
// command, checksum, session id and reply id, 16 bits each, little endian.
const HeaderSize = 8

// Packet is one decoded terminal packet.
type Packet struct {
	Command   uint16
	Checksum  uint16
	SessionID uint16
	ReplyID   uint16
	Data      []byte
}

// Ack reports whether the packet is a positive acknowledgement.
func (p *Packet) Ack() bool {
	return p.Command == CmdAckOK || p.Command == CmdAckData
}

// EncodePacket builds a wire packet for the given command.
func EncodePacket(command, sessionID, replyID uint16, data []byte) []byte {
	buf := make([]byte, HeaderSize+len(data))
	binary.LittleEndian.PutUint16(buf[0:2], command)
	// 校验和位置先置零
	binary.LittleEndian.PutUint16(buf[4:6], sessionID)
	binary.LittleEndian.PutUint16(buf[6:8], replyID)
	copy(buf[HeaderSize:], data)
	binary.LittleEndian.PutUint16(buf[2:4], Checksum(buf))
	return buf
}

// DecodePacket parses and checksum-verifies a wire packet.
func DecodePacket(buf []byte) (*Packet, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("packet too short: %d bytes", len(buf))
	}

	p := &Packet{
		Command:   binary.LittleEndian.Uint16(buf[0:2]),
		Checksum:  binary.LittleEndian.Uint16(buf[2:4]),
		SessionID: binary.LittleEndian.Uint16(buf[4:6]),
		ReplyID:   binary.LittleEndian.Uint16(buf[6:8]),
	}
	if len(buf) > HeaderSize {
		p.Data = append(p.Data, buf[HeaderSize:]...)
	}

	// 重新计算校验和进行验证
	check := make([]byte, len(buf))
	copy(check, buf)
	check[2], check[3] = 0, 0
	if sum := Checksum(check); sum != p.Checksum {
		return nil, fmt.Errorf("checksum mismatch: got %#04x, want %#04x", p.Checksum, sum)
	}

	return p, nil
}

// Checksum computes the ones-complement 16-bit checksum the terminal uses.
// The checksum field itself must be zeroed before calling.
func Checksum(buf []byte) uint16 {
	var sum int64
	i := 0
	for ; i+1 < len(buf); i += 2 {
		sum += int64(binary.LittleEndian.Uint16(buf[i : i+2]))
	}
	if i < len(buf) {
		sum += int64(buf[i])
	}

	for sum > MaxUint16 {
		sum -= MaxUint16
	}
	sum = ^sum
	for sum < 0 {
		sum += MaxUint16
	}

	return uint16(sum)
}
