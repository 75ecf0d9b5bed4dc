package epos

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"
)

// Object dictionary entries used by the rig.
const (
	objControlword     = 0x6040
	objStatusword      = 0x6041
	objModes           = 0x6060
	objModesDisplay    = 0x6061
	objPositionActual  = 0x6064
	objTargetPosition  = 0x607A
	objProfileVelocity = 0x6081
	objProfileAccel    = 0x6083
	objProfileDecel    = 0x6084
	objHomingMethod    = 0x6098
	objHomePosition    = 0x2081
)

// Controlword commands and flags.
const (
	cwShutdown        = 0x0006
	cwEnableOperation = 0x000F
	cwFaultReset      = 0x0080
	cwNewSetpoint     = 0x0010
	cwImmediately     = 0x0020
	cwRelative        = 0x0040
	cwHalt            = 0x0100
	cwStartHoming     = 0x0010
)

// Statusword bits.
const (
	swFault          = 0x0008
	swTargetReached  = 0x0400
	swHomingAttained = 0x1000
)

// homingActualPosition is EPOS2 homing method 35: take the current position.
const homingActualPosition = 35

// Device talks MAXON SERIAL V2 to one node over a serial line.
type Device struct {
	mu     sync.Mutex
	port   io.ReadWriteCloser
	rd     *bufio.Reader
	nodeID byte

	// PollInterval is the statusword polling period while waiting for motion.
	PollInterval time.Duration
}

func NewDevice(port io.ReadWriteCloser, nodeID int) *Device {
	return &Device{
		port:         port,
		rd:           bufio.NewReader(port),
		nodeID:       byte(nodeID),
		PollInterval: 10 * time.Millisecond,
	}
}

func (d *Device) transact(req Frame) (Frame, error) {
	b, err := req.MarshalBinary()
	if err != nil {
		return Frame{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.port.Write(b); err != nil {
		return Frame{}, fmt.Errorf("epos write: %w", err)
	}
	resp, err := ReadFrame(d.rd)
	if err != nil {
		return Frame{}, fmt.Errorf("epos read: %w", err)
	}
	if resp.OpCode != opAnswer {
		return Frame{}, fmt.Errorf("%w: unexpected opcode 0x%02X", ErrFraming, resp.OpCode)
	}
	return resp, nil
}

// ReadObject reads up to 4 bytes from the object dictionary.
func (d *Device) ReadObject(index uint16, sub byte) (uint32, error) {
	payload := []byte{d.nodeID, byte(index), byte(index >> 8), sub}
	resp, err := d.transact(Frame{OpCode: opReadObject, Data: packWords(payload)})
	if err != nil {
		return 0, err
	}
	b := unpackWords(resp.Data)
	if len(b) < 8 {
		return 0, fmt.Errorf("%w: read answer has %d bytes", ErrFraming, len(b))
	}
	if code := binary.LittleEndian.Uint32(b[0:4]); code != 0 {
		return 0, &DeviceError{Code: code, Index: index, SubIndex: sub}
	}
	return binary.LittleEndian.Uint32(b[4:8]), nil
}

// WriteObject writes a value to the object dictionary.
func (d *Device) WriteObject(index uint16, sub byte, value uint32) error {
	payload := []byte{d.nodeID, byte(index), byte(index >> 8), sub, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(payload[4:], value)
	resp, err := d.transact(Frame{OpCode: opWriteObject, Data: packWords(payload)})
	if err != nil {
		return err
	}
	b := unpackWords(resp.Data)
	if len(b) < 4 {
		return fmt.Errorf("%w: write answer has %d bytes", ErrFraming, len(b))
	}
	if code := binary.LittleEndian.Uint32(b[0:4]); code != 0 {
		return &DeviceError{Code: code, Index: index, SubIndex: sub}
	}
	return nil
}

func (d *Device) controlword(cw uint16) error {
	return d.WriteObject(objControlword, 0, uint32(cw))
}

func (d *Device) Statusword() (uint16, error) {
	v, err := d.ReadObject(objStatusword, 0)
	return uint16(v), err
}

func (d *Device) Enable() error {
	if err := d.controlword(cwShutdown); err != nil {
		return err
	}
	return d.controlword(cwEnableOperation)
}

func (d *Device) Disable() error { return d.controlword(cwShutdown) }

func (d *Device) ClearFault() error { return d.controlword(cwFaultReset) }

func (d *Device) ActivateProfilePosition() error {
	return d.WriteObject(objModes, 0, uint32(uint8(ModeProfilePosition)))
}

func (d *Device) OperationMode() (int8, error) {
	v, err := d.ReadObject(objModesDisplay, 0)
	return int8(v), err
}

func (d *Device) MoveToPosition(target int32, p Profile, absolute, immediately bool) error {
	mode, err := d.OperationMode()
	if err != nil {
		return err
	}
	if mode != ModeProfilePosition {
		return ErrNotProfilePosition
	}
	for _, w := range []struct {
		index uint16
		value uint32
	}{
		{objProfileVelocity, p.Velocity},
		{objProfileAccel, p.Acceleration},
		{objProfileDecel, p.Deceleration},
		{objTargetPosition, uint32(target)},
	} {
		if err := d.WriteObject(w.index, 0, w.value); err != nil {
			return err
		}
	}
	cw := uint16(cwEnableOperation)
	if !absolute {
		cw |= cwRelative
	}
	if immediately {
		cw |= cwImmediately
	}
	// The controller latches the setpoint on the rising edge of bit 4.
	if err := d.controlword(cw); err != nil {
		return err
	}
	return d.controlword(cw | cwNewSetpoint)
}

func (d *Device) Halt() error { return d.controlword(cwEnableOperation | cwHalt) }

func (d *Device) IsTargetReached() (bool, error) {
	sw, err := d.Statusword()
	if err != nil {
		return false, err
	}
	if sw&swFault != 0 {
		return false, ErrFault
	}
	return sw&swTargetReached != 0, nil
}

func (d *Device) WaitForTargetReached(ctx context.Context, timeout time.Duration) error {
	return d.waitStatus(ctx, timeout, swTargetReached)
}

func (d *Device) waitStatus(ctx context.Context, timeout time.Duration, bit uint16) error {
	deadline := time.Now().Add(timeout)
	for {
		sw, err := d.Statusword()
		if err != nil {
			return err
		}
		if sw&swFault != 0 {
			return ErrFault
		}
		if sw&bit != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.PollInterval):
		}
	}
}

func (d *Device) Position() (int32, error) {
	v, err := d.ReadObject(objPositionActual, 0)
	return int32(v), err
}

func (d *Device) TargetPosition() (int32, error) {
	v, err := d.ReadObject(objTargetPosition, 0)
	return int32(v), err
}

// definePositionTimeout bounds the wait for the homing attained bit.
const definePositionTimeout = 2 * time.Second

func (d *Device) DefinePosition(ctx context.Context, pos int32) error {
	steps := []struct {
		index uint16
		value uint32
	}{
		{objModes, uint32(uint8(ModeHoming))},
		{objHomePosition, uint32(pos)},
		{objHomingMethod, uint32(uint8(homingActualPosition))},
		{objControlword, cwEnableOperation},
		{objControlword, cwEnableOperation | cwStartHoming},
	}
	for _, s := range steps {
		if err := d.WriteObject(s.index, 0, s.value); err != nil {
			return err
		}
	}
	return d.waitStatus(ctx, definePositionTimeout, swHomingAttained)
}

func (d *Device) Close() error { return d.port.Close() }
