package driver

import (
	"errors"
	"fmt"
)

// A Phase is where a driver is in its lifecycle.
type Phase int

// The phases of a driver.
const (
	Idle Phase = iota
	Configured
	Running
	Done
	TimedOut
	Faulted
)

var phaseNames = [...]string{
	Idle:       "Idle",
	Configured: "Configured",
	Running:    "Running",
	Done:       "Done",
	TimedOut:   "TimedOut",
	Faulted:    "Faulted",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}

	return phaseNames[p]
}

var (
	// ErrPrecondition is wrapped by the value of every panic caused by
	// calling the driver out of order or with arguments it cannot accept.
	ErrPrecondition = errors.New("driver precondition violated")

	// ErrTimeout is returned when the device does not report done in time.
	ErrTimeout = errors.New("accelerator did not complete in time")

	// ErrDeviceFault is returned when the device reports done with its fault
	// bit set.
	ErrDeviceFault = errors.New("accelerator reported a fault")
)

func preconditionViolated(format string, args ...any) {
	panic(fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...)))
}
