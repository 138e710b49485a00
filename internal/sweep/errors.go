package sweep

import (
	"errors"
	"fmt"
)

// ErrConfiguration is returned before any hardware interaction when a sweep
// request cannot be executed as given.
var ErrConfiguration = errors.New("sweep: invalid configuration")

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// HardwareError wraps a failed get or set on a parameter.
type HardwareError struct {
	Op    string
	Param string
	Err   error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("sweep: %s %s: %v", e.Op, e.Param, e.Err)
}

func (e *HardwareError) Unwrap() error {
	return e.Err
}

func hardwareError(op, name string, err error) error {
	var hw *HardwareError
	if errors.As(err, &hw) {
		return err
	}
	return &HardwareError{Op: op, Param: name, Err: err}
}
