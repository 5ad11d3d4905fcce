package buffer

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/akiban/pgwire/codes"
	pgerror "github.com/akiban/pgwire/errors"
)

// ErrMissingNulTerminator is thrown when no NUL terminator is found when
// interpreting a message property as a string.
var ErrMissingNulTerminator = errors.New("NUL terminator not found")

// NewMissingNulTerminator constructs a new error wrapping ErrMissingNulTerminator
// with additional metadata. It is always fatal: a missing terminator means the
// frame boundary itself can no longer be trusted.
func NewMissingNulTerminator() error {
	return pgerror.WithSeverity(pgerror.WithCode(ErrMissingNulTerminator, codes.DataCorrupted), pgerror.LevelFatal)
}

// ErrInsufficientData is thrown when a frame's body ends before a requested
// field has been fully read.
var ErrInsufficientData = errors.New("insufficient data")

// NewInsufficientData constructs a new error wrapping ErrInsufficientData with
// additional metadata. Always fatal, for the same reason as above.
func NewInsufficientData(length int) error {
	err := fmt.Errorf("length: %d %w", length, ErrInsufficientData)
	return pgerror.WithSeverity(pgerror.WithCode(err, codes.DataCorrupted), pgerror.LevelFatal)
}

// ErrMessageSizeExceeded is thrown when the maximum message size is exceeded.
var ErrMessageSizeExceeded = MessageSizeExceeded{Message: "maximum message size exceeded"}

// MessageSizeExceeded reports that an inbound frame's declared length
// exceeded the reader's configured maximum.
type MessageSizeExceeded struct {
	Message string
	Size    int
	Max     int
}

func (err MessageSizeExceeded) Error() string { return err.Message }

func (err MessageSizeExceeded) Is(target error) bool {
	return reflect.TypeOf(target) == reflect.TypeOf(err)
}

// NewMessageSizeExceeded constructs a new error wrapping MessageSizeExceeded
// with additional metadata. Fatal: the reader has no way to skip past a frame
// this large without risking desync.
func NewMessageSizeExceeded(max, size int) error {
	err := MessageSizeExceeded{
		Message: fmt.Sprintf("message size %d, bigger than maximum allowed message size %d", size, max),
		Size:    size,
		Max:     max,
	}

	return pgerror.WithSeverity(pgerror.WithCode(err, codes.ProgramLimitExceeded), pgerror.LevelFatal)
}

// UnwrapMessageSizeExceeded attempts to unwrap err as a MessageSizeExceeded.
func UnwrapMessageSizeExceeded(err error) (result MessageSizeExceeded, _ bool) {
	return result, errors.As(err, &result)
}
