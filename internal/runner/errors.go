package runner

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. Every kind maps to a stable code printed as the
// last stderr line of a fatal exit.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArguments
	KindOutputDirectorySetup
	KindConnection
	KindResultLogStart
	KindImageLogStart
	KindCommand
	KindResultNotAvailable
	KindCancelled
	KindResultOutput
)

var kindInfo = map[Kind]struct{ name, code string }{
	KindUnknown:              {"UnknownFailure", "ERR_EXCEPTION"},
	KindInvalidArguments:     {"InvalidArguments", "ERR_INVALID_ARGS"},
	KindOutputDirectorySetup: {"OutputDirectorySetupFailure", "ERR_OUTPUT_DIR_SETUP"},
	KindConnection:           {"ConnectionFailure", "ERR_CONNECTION_FAILURE"},
	KindResultLogStart:       {"ResultLogStartFailure", "ERR_RESULT_LOG_FAILURE"},
	KindImageLogStart:        {"ImageLogStartFailure", "ERR_IMAGE_LOG_FAILURE"},
	KindCommand:              {"CommandFailure", "ERR_COMMAND_FAILURE"},
	KindResultNotAvailable:   {"ResultNotAvailable", "ERR_RESULT_NOT_AVAILABLE"},
	KindCancelled:            {"Cancelled", "ERR_CANCELLED"},
	KindResultOutput:         {"ResultOutputFailure", "ERR_RESULT_FAILURE"},
}

func (k Kind) String() string {
	if info, ok := kindInfo[k]; ok {
		return info.name
	}
	return kindInfo[KindUnknown].name
}

// Code is the stable ERR_* identifier.
func (k Kind) Code() string {
	if info, ok := kindInfo[k]; ok {
		return info.code
	}
	return kindInfo[KindUnknown].code
}

// CycleFatal reports whether a repeating run may continue with the next
// cycle after this failure.
func (k Kind) CycleFatal() bool {
	return k == KindCommand || k == KindResultNotAvailable
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CommandError reports a command the controller rejected. A command that
// could not be delivered has Status -1 and the transport error in Err.
type CommandError struct {
	Command  string
	Status   int
	Response string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command %s failed with status %d: %v", e.Command, e.Status, e.Err)
	}
	resp := e.Response
	if resp == "" {
		resp = "?"
	}
	return fmt.Sprintf("command %s failed with status %d: %s", e.Command, e.Status, resp)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
