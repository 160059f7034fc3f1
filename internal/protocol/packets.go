// Package protocol implements the Source RCON wire format: packet types,
// the little-endian frame builder, and the incremental frame decoder used
// by the connection engine. All integers are little-endian int32 and every
// frame carries a 4-byte length prefix.
package protocol

import (
	"encoding/hex"
	"fmt"
)

// Packet types. ExecCommand and AuthResponse share the value 2; which one a
// packet is depends on whether it belongs to the auth handshake.
const (
	TypeResponseValue int32 = 0
	TypeExecCommand   int32 = 2
	TypeAuthResponse  int32 = 2
	TypeAuth          int32 = 3
)

// AuthFailedID is the packet id a server echoes when the password is wrong.
const AuthFailedID int32 = -1

// LengthPrefixSize is the size of the frame length field in bytes.
const LengthPrefixSize = 4

// WrapperSize counts the non-body bytes covered by the length field:
// id (4) + type (4) + body terminator (1) + packet terminator (1).
const WrapperSize = 4 + 4 + 2

// Packet is a single RCON packet, either a client request or a server reply.
type Packet struct {
	// ID correlates requests with replies. Servers echo it back, except for a
	// failed auth where it is AuthFailedID.
	ID int32

	// Type is one of the Type* constants.
	Type int32

	// Body is the password, the command, or the command output.
	Body string
}

// Size returns the value of the length field for this packet.
func (p Packet) Size() int32 {
	return int32(len(p.Body) + WrapperSize)
}

// TypeName returns a readable name for the packet type. Type 2 is reported
// as exec_command since the name cannot be resolved without handshake context.
func (p Packet) TypeName() string {
	switch p.Type {
	case TypeResponseValue:
		return "response_value"
	case TypeExecCommand:
		return "exec_command"
	case TypeAuth:
		return "auth"
	default:
		return fmt.Sprintf("unknown(%d)", p.Type)
	}
}

// String returns a hex dump of the serialized packet for debugging.
// Auth packets have their body replaced so passwords never reach a log.
func (p Packet) String() string {
	if p.Type == TypeAuth {
		p.Body = "xxxxx"
	}
	return fmt.Sprintf("Packet[id=%d type=%s]: %s", p.ID, p.TypeName(), hex.EncodeToString(Serialize(p)))
}
