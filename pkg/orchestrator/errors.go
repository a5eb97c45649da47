package orchestrator

import (
	"github.com/pkg/errors"

	"github.com/go-go-golems/mangiafuoco/pkg/events"
)

// classified wraps a turn-fatal error with the SESSION_ERROR code it will
// be reported under.
type classified struct {
	code string
	err  error
}

func (c *classified) Error() string {
	return c.err.Error()
}

func (c *classified) Unwrap() error {
	return c.err
}

// errorCode returns the SESSION_ERROR code for err. Unclassified errors
// report as transport failures.
func errorCode(err error) string {
	var c *classified
	if errors.As(err, &c) {
		return c.code
	}
	return events.ErrorCodeTransport
}
