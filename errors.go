package lazyflow

import (
	"errors"
	"fmt"

	"github.com/birdayz/lazyflow/karray"
	"github.com/birdayz/lazyflow/kroi"
)

// Sentinel errors. Typed errors below unwrap to one of these.
var (
	ErrNotReady         = errors.New("lazyflow: slot not ready")
	ErrCyclicConnection = errors.New("lazyflow: connection would create a cycle")
	ErrConfiguration    = errors.New("lazyflow: configuration error")
	ErrShapeMismatch    = karray.ErrShapeMismatch
	ErrCancelled        = errors.New("lazyflow: request cancelled")
	ErrSlotNotFound     = errors.New("lazyflow: slot not found")
	ErrGraphClosed      = errors.New("lazyflow: graph closed")
)

// NotReadyError is returned synchronously by Get and Slice when the queried
// slot is not ready. Slot names the first unready slot found upstream, as
// "node.slot".
type NotReadyError struct {
	Slot string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("lazyflow: slot %s not ready", e.Slot)
}

func (e *NotReadyError) Unwrap() error { return ErrNotReady }

// ConfigurationError reports a failed setup of Node, either returned by the
// operator itself or detected from incomplete output metadata afterwards.
type ConfigurationError struct {
	Node  string
	Cause error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("lazyflow: setup of %s failed: %v", e.Node, e.Cause)
}

func (e *ConfigurationError) Unwrap() []error { return []error{ErrConfiguration, e.Cause} }

// ExecuteError attributes an operator failure to the output and region it
// happened in. It is added once, where the failure originates, and passed
// through enclosing requests unchanged.
type ExecuteError struct {
	Node  string
	Slot  string
	ROI   kroi.ROI
	Cause error
}

func (e *ExecuteError) Error() string {
	return fmt.Sprintf("lazyflow: execute %s.%s%s: %v", e.Node, e.Slot, e.ROI, e.Cause)
}

func (e *ExecuteError) Unwrap() error { return e.Cause }
