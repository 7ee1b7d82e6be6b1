package zkproto

// ZKTeco UDP 协议常量
const (
	// 请求命令
	CmdConnect       uint16 = 1000
	CmdExit          uint16 = 1001
	CmdEnableDevice  uint16 = 1002
	CmdDisableDevice uint16 = 1003
	CmdAuth          uint16 = 1102
	CmdGetTime       uint16 = 201
	CmdRegEvent      uint16 = 500

	// 应答命令
	CmdAckOK     uint16 = 2000
	CmdAckError  uint16 = 2001
	CmdAckData   uint16 = 2002
	CmdAckUnauth uint16 = 2005
)

// EFAttLog is the realtime-event flag that subscribes the connection to
// attendance log records.
const EFAttLog uint32 = 1

// MaxUint16 is the wrap boundary for reply identifiers and checksums.
const MaxUint16 = 65535
