package xbe

import "github.com/pkg/errors"

// Error conditions reported by the reader and writer. Callers match them
// with errors.Is; the wrapped message carries the failing field.
var (
	// ErrMalformedImage is returned when the byte source is not a readable XBE.
	ErrMalformedImage = errors.New("XBE镜像格式错误")

	// ErrInvalidAddress is returned when an address lies below the base address.
	ErrInvalidAddress = errors.New("无效地址")

	// ErrLayout is returned when an Image cannot be serialized consistently.
	ErrLayout = errors.New("XBE布局错误")
)

func malformed(err error, format string, args ...interface{}) error {
	if err == nil {
		return errors.Wrapf(ErrMalformedImage, format, args...)
	}
	return errors.Wrapf(&wrappedError{cause: err, kind: ErrMalformedImage}, format, args...)
}

func layoutErr(format string, args ...interface{}) error {
	return errors.Wrapf(ErrLayout, format, args...)
}

// wrappedError ties an underlying I/O error to one of the sentinel kinds so
// that both remain visible to errors.Is.
type wrappedError struct {
	cause error
	kind  error
}

func (e *wrappedError) Error() string {
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *wrappedError) Unwrap() error { return e.cause }

func (e *wrappedError) Is(target error) bool { return target == e.kind }
