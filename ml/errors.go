package ml

import (
	"errors"
	"fmt"
)

var (
	ErrDimension = errors.New("dimension mismatch")
	ErrSingular  = errors.New("singular matrix")
	ErrProtocol  = errors.New("module protocol violation")
	ErrIndex     = errors.New("index out of range")
)

// DimensionError reports operands whose extents are incompatible for Op.
type DimensionError struct {
	Op   string
	Want [2]int
	Got  [2]int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: %v: want [%d, %d], got [%d, %d]",
		e.Op, ErrDimension, e.Want[0], e.Want[1], e.Got[0], e.Got[1])
}

func (e *DimensionError) Unwrap() error { return ErrDimension }

// ProtocolError reports a Backward without a pending Forward, or an Update
// without pending gradients.
type ProtocolError struct {
	Module string
	Op     string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s.%s: %v: %s", e.Module, e.Op, ErrProtocol, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

func shapePanic(op string, wantR, wantC, gotR, gotC int) {
	panic(&DimensionError{Op: op, Want: [2]int{wantR, wantC}, Got: [2]int{gotR, gotC}})
}
