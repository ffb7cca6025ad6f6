package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeEnvelope serializes env as little-endian, length-prefixed bytes:
// type(u16) sourceNodeIndex(u32) sourceAddr(4+2) bandwidthUsage(u64)
// seqnum(u64) flags(u8) eventsLen(u32)+msgpack-encoded events
// payloadLen(u32)+payload. The variable-length fields (events, payload)
// are length-prefixed. Payload is opaque here: the sending packages
// encode it with msgpack, and only the victim-sync bytes carried inside
// it use this package's exact bit-level framing (see dirinfoset.go,
// victimsyncset.go), since round-trip laws are asserted against those
// exact bytes.
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint16(env.Type)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, env.SourceNodeIndex); err != nil {
		return nil, err
	}
	buf.Write(env.SourceAddr.IP[:])
	if err := binary.Write(&buf, binary.LittleEndian, env.SourceAddr.Port); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, env.BandwidthUsage); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, env.Header.SeqNum); err != nil {
		return nil, err
	}
	var flags uint8
	if env.Header.SkipPropagationLatency {
		flags |= 0x1
	}
	if env.Header.Background {
		flags |= 0x2
	}
	buf.WriteByte(flags)

	eventsBytes, err := msgpack.Marshal(env.Events)
	if err != nil {
		return nil, fmt.Errorf("wire: encode events: %w", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(eventsBytes))); err != nil {
		return nil, err
	}
	buf.Write(eventsBytes)

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(env.Payload))); err != nil {
		return nil, err
	}
	buf.Write(env.Payload)

	return buf.Bytes(), nil
}

// DecodeEnvelope is the inverse of EncodeEnvelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	r := bytes.NewReader(data)
	env := &Envelope{}

	var typ uint16
	if err := binary.Read(r, binary.LittleEndian, &typ); err != nil {
		return nil, err
	}
	env.Type = MessageType(typ)

	if err := binary.Read(r, binary.LittleEndian, &env.SourceNodeIndex); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, env.SourceAddr.IP[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &env.SourceAddr.Port); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &env.BandwidthUsage); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &env.Header.SeqNum); err != nil {
		return nil, err
	}
	var flags uint8
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return nil, err
	}
	env.Header.SkipPropagationLatency = flags&0x1 != 0
	env.Header.Background = flags&0x2 != 0

	var eventsLen uint32
	if err := binary.Read(r, binary.LittleEndian, &eventsLen); err != nil {
		return nil, err
	}
	eventsBytes := make([]byte, eventsLen)
	if _, err := io.ReadFull(r, eventsBytes); err != nil {
		return nil, err
	}
	if eventsLen > 0 {
		if err := msgpack.Unmarshal(eventsBytes, &env.Events); err != nil {
			return nil, fmt.Errorf("wire: decode events: %w", err)
		}
	}

	var payloadLen uint32
	if err := binary.Read(r, binary.LittleEndian, &payloadLen); err != nil {
		return nil, err
	}
	env.Payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(r, env.Payload); err != nil {
		return nil, err
	}

	return env, nil
}
