package pipeline

import (
	"errors"
	"fmt"
)

// ErrInFlight is returned when the target is already being checked.
var ErrInFlight = errors.New("check already in flight")

type NavigationTimeoutError struct {
	Err error
}

func (e *NavigationTimeoutError) Error() string {
	return fmt.Errorf("navigation timeout: %w", e.Err).Error()
}

func (e *NavigationTimeoutError) Unwrap() error { return e.Err }

// NavigationError is a navigation failure other than a timeout that
// survived the in-check retries.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Errorf("navigate %s: %w", e.URL, e.Err).Error()
}

func (e *NavigationError) Unwrap() error { return e.Err }

type ElementNotFoundError struct {
	Selector string
	Attempts int
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("element %q not found after %d attempts", e.Selector, e.Attempts)
}

type ExtractionEmptyError struct {
	What string
	Err  error
}

func (e *ExtractionEmptyError) Error() string {
	if e.Err != nil {
		return fmt.Errorf("empty %s: %w", e.What, e.Err).Error()
	}
	return "empty " + e.What
}

func (e *ExtractionEmptyError) Unwrap() error { return e.Err }

type RenderingEngineUnavailableError struct {
	Err error
}

func (e *RenderingEngineUnavailableError) Error() string {
	return fmt.Errorf("rendering engine unavailable: %w", e.Err).Error()
}

func (e *RenderingEngineUnavailableError) Unwrap() error { return e.Err }

type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Errorf("%s: %w", e.Op, e.Err).Error()
}

func (e *InternalError) Unwrap() error { return e.Err }

// ErrorKind labels err for metrics and history records.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var (
		navTimeout  *NavigationTimeoutError
		nav         *NavigationError
		notFound    *ElementNotFoundError
		empty       *ExtractionEmptyError
		unavailable *RenderingEngineUnavailableError
	)
	switch {
	case errors.As(err, &navTimeout):
		return "navigation_timeout"
	case errors.As(err, &nav):
		return "navigation"
	case errors.As(err, &notFound):
		return "element_not_found"
	case errors.As(err, &empty):
		return "extraction_empty"
	case errors.As(err, &unavailable):
		return "rendering_engine_unavailable"
	default:
		return "internal"
	}
}
