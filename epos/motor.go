package epos

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotProfilePosition = errors.New("epos: not in Profile Position Mode")
	ErrTimeout            = errors.New("epos: timed out waiting for target")
	ErrFault              = errors.New("epos: device in fault state")
	ErrNotFound           = errors.New("epos: could not establish communication with EPOS device")
)

// Operation modes (object 0x6060).
const (
	ModeProfilePosition int8 = 1
	ModeHoming          int8 = 6
)

// Profile is the trapezoidal motion profile for a Profile Position move.
type Profile struct {
	Velocity     uint32 // rpm
	Acceleration uint32 // rpm/s
	Deceleration uint32 // rpm/s
}

// DefaultProfile matches the acceleration limits used on the test rig.
func DefaultProfile(velocity uint32) Profile {
	return Profile{Velocity: velocity, Acceleration: 100000, Deceleration: 100000}
}

// Motor is a single EPOS axis.
type Motor interface {
	Enable() error
	Disable() error
	ClearFault() error

	ActivateProfilePosition() error
	OperationMode() (int8, error)

	MoveToPosition(target int32, p Profile, absolute, immediately bool) error
	Halt() error
	IsTargetReached() (bool, error)
	WaitForTargetReached(ctx context.Context, timeout time.Duration) error

	Position() (int32, error)
	TargetPosition() (int32, error)

	// DefinePosition switches to Homing Mode and sets the actual position to pos.
	DefinePosition(ctx context.Context, pos int32) error

	Close() error
}

// DeviceError is a non-zero communication error code returned by the controller.
type DeviceError struct {
	Code     uint32
	Index    uint16
	SubIndex byte
}

var errorText = map[uint32]string{
	0x05030000: "toggle bit not alternated",
	0x05040000: "SDO protocol timed out",
	0x05040001: "command specifier not valid",
	0x06010001: "attempt to read a write only object",
	0x06010002: "attempt to write a read only object",
	0x06020000: "object does not exist",
	0x06040041: "object cannot be mapped",
	0x06070010: "data type does not match",
	0x06090011: "subindex does not exist",
	0x06090030: "value range exceeded",
	0x08000000: "general error",
	0x08000020: "data cannot be transferred or stored",
	0x08000022: "wrong device state",
	0x0F00FFC0: "wrong NMT state",
	0x0F00FFBE: "password incorrect",
	0x0F00FFBC: "not in service mode",
	0x0F00FFB9: "CAN id error",
}

func (e *DeviceError) Error() string {
	text, ok := errorText[e.Code]
	if !ok {
		text = "unknown error"
	}
	return fmt.Sprintf("epos: object 0x%04X/0x%02X: error 0x%08X (%s)", e.Index, e.SubIndex, e.Code, text)
}
