package fixedpoint

import (
	"fmt"
	"math/big"
)

// RangeError reports an input or result outside an operation's declared domain.
type RangeError struct {
	Op     string
	Value  string
	Reason string
}

func (e *RangeError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: %s (value %s)", e.Op, e.Reason, e.Value)
}

func rangeErr(op, reason string, value *big.Int) error {
	e := &RangeError{Op: op, Reason: reason}
	if value != nil {
		e.Value = value.String()
	}
	return e
}
