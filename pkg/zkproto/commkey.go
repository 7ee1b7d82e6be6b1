package zkproto

import (
	"encoding/binary"
)

// CommKey derives the 4-byte authentication digest sent with CMD_AUTH for
// terminals configured with a numeric comm key. The device mixes the
// bit-reversed key with the session id, masks it with "ZKSO" and a tick
// counter byte.
func CommKey(key uint32, sessionID uint16, ticks uint8) []byte {
	var k uint32
	for i := 0; i < 32; i++ {
		if key&(1<<uint(i)) != 0 {
			k = k<<1 | 1
		} else {
			k <<= 1
		}
	}
	k += uint32(sessionID)

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, k)
	buf[0] ^= 'Z'
	buf[1] ^= 'K'
	buf[2] ^= 'S'
	buf[3] ^= 'O'

	// 交换高低 16 位
	lo := binary.LittleEndian.Uint16(buf[0:2])
	hi := binary.LittleEndian.Uint16(buf[2:4])
	binary.LittleEndian.PutUint16(buf[0:2], hi)
	binary.LittleEndian.PutUint16(buf[2:4], lo)

	buf[0] ^= ticks
	buf[1] ^= ticks
	buf[2] = ticks
	buf[3] ^= ticks

	return buf
}
