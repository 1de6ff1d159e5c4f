// Package frame implements the wire codec of spec.md §6: the five core
// frame kinds plus the additive Parity frame carrying Reed-Solomon shards
// for the optional FEC extension (internal/engine/fec).
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/aetherflow/qmux/pkg/seq"
)

// Kind is the single leading byte identifying a frame's wire layout.
type Kind uint8

const (
	KindPayload    Kind = 0x00
	KindPayloadAck Kind = 0x01
	KindPing       Kind = 0x02
	KindPingAck    Kind = 0x03
	KindConnect    Kind = 0x04
	KindParity     Kind = 0x05
)

func (k Kind) String() string {
	switch k {
	case KindPayload:
		return "Payload"
	case KindPayloadAck:
		return "PayloadAck"
	case KindPing:
		return "Ping"
	case KindPingAck:
		return "PingAck"
	case KindConnect:
		return "Connect"
	case KindParity:
		return "Parity"
	default:
		return fmt.Sprintf("Kind(0x%02x)", uint8(k))
	}
}

// DecodeError reports why Decode rejected its input: an unrecognized
// leading byte or a frame truncated before its declared length.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("frame decode: %s", e.Reason)
}

// Frame is any decoded wire frame.
type Frame interface {
	Kind() Kind
	Encode() []byte
}

// Payload carries one sequenced application chunk.
type Payload struct {
	Seq  seq.Seq
	Data []byte
}

func (Payload) Kind() Kind { return KindPayload }

func (p Payload) Encode() []byte {
	buf := make([]byte, 5+len(p.Data))
	buf[0] = byte(KindPayload)
	binary.BigEndian.PutUint16(buf[1:3], p.Seq.Value())
	binary.BigEndian.PutUint16(buf[3:5], uint16(len(p.Data)))
	copy(buf[5:], p.Data)
	return buf
}

// PayloadAck acknowledges a Payload sequence.
type PayloadAck struct {
	Seq seq.Seq
}

func (PayloadAck) Kind() Kind { return KindPayloadAck }

func (a PayloadAck) Encode() []byte {
	buf := make([]byte, 3)
	buf[0] = byte(KindPayloadAck)
	binary.BigEndian.PutUint16(buf[1:3], a.Seq.Value())
	return buf
}

// Ping is a keep-alive frame carrying a sequence from a channel's
// single-slot ping tracker.
type Ping struct {
	Seq seq.Seq
}

func (Ping) Kind() Kind { return KindPing }

func (p Ping) Encode() []byte {
	buf := make([]byte, 3)
	buf[0] = byte(KindPing)
	binary.BigEndian.PutUint16(buf[1:3], p.Seq.Value())
	return buf
}

// PingAck acknowledges a Ping sequence.
type PingAck struct {
	Seq seq.Seq
}

func (PingAck) Kind() Kind { return KindPingAck }

func (a PingAck) Encode() []byte {
	buf := make([]byte, 3)
	buf[0] = byte(KindPingAck)
	binary.BigEndian.PutUint16(buf[1:3], a.Seq.Value())
	return buf
}

// Connect carries the connection identifier exchanged during the
// host-level handshake (outside the engine's scope per spec.md §1).
type Connect struct {
	ConnectionID uint32
}

func (Connect) Kind() Kind { return KindConnect }

func (c Connect) Encode() []byte {
	buf := make([]byte, 5)
	buf[0] = byte(KindConnect)
	binary.BigEndian.PutUint32(buf[1:5], c.ConnectionID)
	return buf
}

// Parity carries one Reed-Solomon parity shard belonging to a FEC encoding
// group; the group's data shards travel as ordinary Payload frames. It is additive: it has no counterpart in spec.md §6
// and is only produced/consumed when the FEC extension is enabled.
type Parity struct {
	Group        uint32
	ShardIndex   uint8
	DataShards   uint8
	ParityShards uint8
	Data         []byte
}

func (Parity) Kind() Kind { return KindParity }

func (p Parity) Encode() []byte {
	buf := make([]byte, 10+len(p.Data))
	buf[0] = byte(KindParity)
	binary.BigEndian.PutUint32(buf[1:5], p.Group)
	buf[5] = p.ShardIndex
	buf[6] = p.DataShards
	buf[7] = p.ParityShards
	binary.BigEndian.PutUint16(buf[8:10], uint16(len(p.Data)))
	copy(buf[10:], p.Data)
	return buf
}

// Decode parses one wire frame. Any leading byte other than the five (six,
// with Parity) recognized kinds, or input truncated before its declared
// length, is a *DecodeError.
func Decode(data []byte) (Frame, error) {
	if len(data) < 1 {
		return nil, &DecodeError{Reason: "empty input"}
	}

	switch Kind(data[0]) {
	case KindPayload:
		if len(data) < 5 {
			return nil, &DecodeError{Reason: "truncated payload header"}
		}
		s := seq.New(binary.BigEndian.Uint16(data[1:3]))
		length := binary.BigEndian.Uint16(data[3:5])
		if len(data) < 5+int(length) {
			return nil, &DecodeError{Reason: "truncated payload data"}
		}
		out := make([]byte, length)
		copy(out, data[5:5+int(length)])
		return Payload{Seq: s, Data: out}, nil

	case KindPayloadAck:
		if len(data) < 3 {
			return nil, &DecodeError{Reason: "truncated payload ack"}
		}
		return PayloadAck{Seq: seq.New(binary.BigEndian.Uint16(data[1:3]))}, nil

	case KindPing:
		if len(data) < 3 {
			return nil, &DecodeError{Reason: "truncated ping"}
		}
		return Ping{Seq: seq.New(binary.BigEndian.Uint16(data[1:3]))}, nil

	case KindPingAck:
		if len(data) < 3 {
			return nil, &DecodeError{Reason: "truncated ping ack"}
		}
		return PingAck{Seq: seq.New(binary.BigEndian.Uint16(data[1:3]))}, nil

	case KindConnect:
		if len(data) < 5 {
			return nil, &DecodeError{Reason: "truncated connect"}
		}
		return Connect{ConnectionID: binary.BigEndian.Uint32(data[1:5])}, nil

	case KindParity:
		if len(data) < 10 {
			return nil, &DecodeError{Reason: "truncated parity header"}
		}
		length := binary.BigEndian.Uint16(data[8:10])
		if len(data) < 10+int(length) {
			return nil, &DecodeError{Reason: "truncated parity data"}
		}
		out := make([]byte, length)
		copy(out, data[10:10+int(length)])
		return Parity{
			Group:        binary.BigEndian.Uint32(data[1:5]),
			ShardIndex:   data[5],
			DataShards:   data[6],
			ParityShards: data[7],
			Data:         out,
		}, nil

	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown frame kind 0x%02x", data[0])}
	}
}
