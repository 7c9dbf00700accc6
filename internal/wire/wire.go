// Package wire implements the datagram frame exchanged between nodes.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Frame layout, big endian:
//
//	0       version
//	1       message type
//	2 - 3   source id
//	4 - 11  timestamp (float64, unix seconds)
//	12 - 19 value (float64)
const (
	Version   = 1
	FrameSize = 20

	// TypeEstimate identifies an estimate frame. Other type values are
	// reserved and rejected by the inbound filter.
	TypeEstimate byte = 0x01
)

// Estimate is the scalar estimate a node advertises: its value, the time it
// was stamped by the origin, and the origin's source identifier.
type Estimate struct {
	Source    uint16
	Timestamp float64
	Value     float64
}

// MessageType peeks at the type discriminator without decoding the frame.
func MessageType(raw []byte) (byte, error) {
	if len(raw) < 2 {
		return 0, fmt.Errorf("frame too short: %d bytes", len(raw))
	}
	if raw[0] != Version {
		return 0, fmt.Errorf("unsupported frame version %d", raw[0])
	}
	return raw[1], nil
}

// Marshal encodes the estimate into a fresh frame.
func (e *Estimate) Marshal() []byte {
	out := make([]byte, FrameSize)
	out[0] = Version
	out[1] = TypeEstimate
	binary.BigEndian.PutUint16(out[2:4], e.Source)
	binary.BigEndian.PutUint64(out[4:12], math.Float64bits(e.Timestamp))
	binary.BigEndian.PutUint64(out[12:20], math.Float64bits(e.Value))
	return out
}

// Unmarshal decodes an estimate frame.
func (e *Estimate) Unmarshal(raw []byte) error {
	mt, err := MessageType(raw)
	if err != nil {
		return err
	}
	if mt != TypeEstimate {
		return fmt.Errorf("not an estimate frame: type %#x", mt)
	}
	if len(raw) < FrameSize {
		return fmt.Errorf("estimate frame truncated: %d bytes", len(raw))
	}
	e.Source = binary.BigEndian.Uint16(raw[2:4])
	e.Timestamp = math.Float64frombits(binary.BigEndian.Uint64(raw[4:12]))
	e.Value = math.Float64frombits(binary.BigEndian.Uint64(raw[12:20]))
	return nil
}
