package pipeline

import (
	"errors"
	"fmt"

	"github.com/opd-ai/vpuomx/omx"
)

var (
	// ErrStopped is returned by calls on a stopped pipeline
	ErrStopped = fmt.Errorf("%w: pipeline stopped", omx.ErrIncorrectStateOperation)
	// ErrNilBuffer is returned when a nil header is submitted
	ErrNilBuffer = fmt.Errorf("%w: nil buffer header", omx.ErrBadParameter)
	// ErrIncompleteConfig is returned by the constructors when a port, the
	// engine or the codec variant is missing
	ErrIncompleteConfig = fmt.Errorf("%w: incomplete pipeline config", omx.ErrBadParameter)
)

// errStartupAborted is the cancellation cause of a resolution-found wait
// ended by flush or stop.
var errStartupAborted = errors.New("start-up aborted")

func (c Config) validate() error {
	if c.Input == nil || c.Output == nil || c.Engine == nil || c.Variant == nil {
		return ErrIncompleteConfig
	}
	return nil
}
