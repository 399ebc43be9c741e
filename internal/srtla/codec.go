// Package srtla implements the SRTLA receiver core: packet
// classification, connection/group bookkeeping, the registration and
// ACK state machine, quality scoring, and load balancing.
package srtla

import "encoding/binary"

// Packet type values, big-endian u16 at offset 0 of every SRTLA/SRT
// control datagram. SRT data packets are distinguished by the top bit
// of the first 32 bits being clear, not by one of these constants.
const (
	TypeSRTHandshake   uint16 = 0x8000
	TypeSRTAck         uint16 = 0x8002
	TypeSRTNak         uint16 = 0x8003
	TypeSRTLAKeepalive uint16 = 0x9000
	TypeSRTLAAck       uint16 = 0x9100
	TypeSRTLAReg1      uint16 = 0x9200
	TypeSRTLAReg2      uint16 = 0x9201
	TypeSRTLAReg3      uint16 = 0x9202
	TypeSRTLARegErr    uint16 = 0x9210
	TypeSRTLARegNgp    uint16 = 0x9211
)

const (
	// MTU bounds the size of any datagram read from either socket.
	MTU = 1500
	// SRTLAIDLen is the width of a group identifier in bytes; half is
	// chosen by the client, half by the receiver.
	SRTLAIDLen = 32
	// RecvAckInt is both the receive-log ring size and the packet
	// count between SRTLA ACK emissions.
	RecvAckInt = 10
	// SRTMinLen is the minimum length of a datagram treated as SRT
	// data rather than a malformed/short read.
	SRTMinLen = 16

	srtlaKeepaliveMagic     uint16 = 0x4b4c // "KL", must match on extended keepalives
	srtlaKeepaliveExtVer    uint16 = 1
	extendedKeepaliveMinLen        = 42
)

// PacketKind is the coarse classification of an inbound datagram.
type PacketKind int

const (
	KindUnknown PacketKind = iota
	KindSRTData
	KindSRTAck
	KindSRTNak
	KindSRTHandshake
	KindKeepalive
	KindSRTLAAck
	KindReg1
	KindReg2
	KindReg3
	KindRegErr
	KindRegNgp
)

// Classify determines the kind of an inbound datagram from its first
// bytes. An empty or 1-byte buffer classifies as KindUnknown.
func Classify(buf []byte) PacketKind {
	if len(buf) < 2 {
		return KindUnknown
	}
	hdr := binary.BigEndian.Uint16(buf[0:2])
	// SRT data packets carry the sequence number in the first 4
	// bytes with the top bit clear; this must be checked before any
	// fixed-value comparison since 0x0000..0x7fff overlaps no
	// control type.
	if hdr&0x8000 == 0 {
		return KindSRTData
	}
	switch hdr {
	case TypeSRTHandshake:
		return KindSRTHandshake
	case TypeSRTAck:
		return KindSRTAck
	case TypeSRTNak:
		return KindSRTNak
	case TypeSRTLAKeepalive:
		return KindKeepalive
	case TypeSRTLAAck:
		return KindSRTLAAck
	case TypeSRTLAReg1:
		return KindReg1
	case TypeSRTLAReg2:
		return KindReg2
	case TypeSRTLAReg3:
		return KindReg3
	case TypeSRTLARegErr:
		return KindRegErr
	case TypeSRTLARegNgp:
		return KindRegNgp
	default:
		return KindUnknown
	}
}

// SRTSequenceNumber extracts the SRT sequence number from a data
// packet: the 32-bit big-endian field at offset 0 with the top bit
// cleared. Returns -1 if the top bit is set (not a data packet) or the
// buffer is too short.
func SRTSequenceNumber(buf []byte) int32 {
	if len(buf) < 4 {
		return -1
	}
	v := binary.BigEndian.Uint32(buf[0:4])
	if v&0x80000000 != 0 {
		return -1
	}
	return int32(v)
}

// ExtendedTelemetry is the decoded payload of an extended SRTLA
// keepalive, present only when the sender supports it.
type ExtendedTelemetry struct {
	ConnID    uint32
	Window    uint32
	InFlight  uint32
	RTTMicros uint64
	NakCount  uint32
	Bitrate   uint32
}

// ParseExtendedKeepalive attempts to decode telemetry from a keepalive
// payload. Returns ok=false for a short or malformed buffer, in which
// case the caller must treat it as a plain keepalive.
func ParseExtendedKeepalive(buf []byte) (ExtendedTelemetry, bool) {
	var t ExtendedTelemetry
	if len(buf) < extendedKeepaliveMinLen {
		return t, false
	}
	if binary.BigEndian.Uint16(buf[10:12]) != srtlaKeepaliveMagic {
		return t, false
	}
	if binary.BigEndian.Uint16(buf[12:14]) != srtlaKeepaliveExtVer {
		return t, false
	}
	t.ConnID = binary.BigEndian.Uint32(buf[14:18])
	t.Window = binary.BigEndian.Uint32(buf[18:22])
	t.InFlight = binary.BigEndian.Uint32(buf[22:26])
	t.RTTMicros = binary.BigEndian.Uint64(buf[26:34])
	t.NakCount = binary.BigEndian.Uint32(buf[34:38])
	t.Bitrate = binary.BigEndian.Uint32(buf[38:42])
	return t, true
}

// EncodeExtendedKeepalive renders telemetry into the wire layout,
// mainly used by tests exercising the encode/decode round trip.
func EncodeExtendedKeepalive(t ExtendedTelemetry) []byte {
	buf := make([]byte, extendedKeepaliveMinLen)
	binary.BigEndian.PutUint16(buf[0:2], TypeSRTLAKeepalive)
	binary.BigEndian.PutUint16(buf[10:12], srtlaKeepaliveMagic)
	binary.BigEndian.PutUint16(buf[12:14], srtlaKeepaliveExtVer)
	binary.BigEndian.PutUint32(buf[14:18], t.ConnID)
	binary.BigEndian.PutUint32(buf[18:22], t.Window)
	binary.BigEndian.PutUint32(buf[22:26], t.InFlight)
	binary.BigEndian.PutUint64(buf[26:34], t.RTTMicros)
	binary.BigEndian.PutUint32(buf[34:38], t.NakCount)
	binary.BigEndian.PutUint32(buf[38:42], t.Bitrate)
	return buf
}

// EncodeSRTLAAck builds an SRTLA ACK datagram from the receive-log
// ring, in ring order starting at index 0.
func EncodeSRTLAAck(seqNumbers [RecvAckInt]uint32) []byte {
	buf := make([]byte, 4+4*RecvAckInt)
	binary.BigEndian.PutUint16(buf[0:2], TypeSRTLAAck)
	for i, sn := range seqNumbers {
		binary.BigEndian.PutUint32(buf[4+4*i:8+4*i], sn)
	}
	return buf
}
