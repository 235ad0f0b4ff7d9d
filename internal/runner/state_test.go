package runner

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from  State
		debug bool
		want  State
	}{
		{StateCheckingMode, false, StateResetting},
		{StateResetting, false, StateSelectingProgram},
		{StateSelectingProgram, false, StateTriggering},
		{StateTriggering, false, StateAwaitingResult},
		{StateAwaitingResult, false, StateFinalReset},
		{StateAwaitingResult, true, StateSucceeded},
		{StateFinalReset, false, StateSucceeded},
		{StateSucceeded, false, StateSucceeded},
		{StateFailed, true, StateFailed},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/debug=%t", tt.from, tt.debug), func(t *testing.T) {
			assert.Equal(t, tt.want, next(tt.from, tt.debug))
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_result", StateAwaitingResult.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateFinalReset.Terminal())
}

func TestKindCodes(t *testing.T) {
	tests := []struct {
		kind Kind
		code string
	}{
		{KindInvalidArguments, "ERR_INVALID_ARGS"},
		{KindOutputDirectorySetup, "ERR_OUTPUT_DIR_SETUP"},
		{KindConnection, "ERR_CONNECTION_FAILURE"},
		{KindResultLogStart, "ERR_RESULT_LOG_FAILURE"},
		{KindImageLogStart, "ERR_IMAGE_LOG_FAILURE"},
		{KindCommand, "ERR_COMMAND_FAILURE"},
		{KindResultNotAvailable, "ERR_RESULT_NOT_AVAILABLE"},
		{KindCancelled, "ERR_CANCELLED"},
		{KindResultOutput, "ERR_RESULT_FAILURE"},
		{KindUnknown, "ERR_EXCEPTION"},
		{Kind(42), "ERR_EXCEPTION"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, tt.kind.Code(), tt.kind.String())
	}
}

func TestCycleFatal(t *testing.T) {
	assert.True(t, KindCommand.CycleFatal())
	assert.True(t, KindResultNotAvailable.CycleFatal())
	for _, k := range []Kind{KindConnection, KindResultOutput, KindCancelled, KindUnknown, KindInvalidArguments} {
		assert.False(t, k.CycleFatal(), k.String())
	}
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", Errorf(KindConnection, "dial: %w", errors.New("refused")))
	assert.Equal(t, KindConnection, KindOf(err))
	assert.Equal(t, "outer: dial: refused", err.Error())
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, "Cancelled", (&Error{Kind: KindCancelled}).Error())
}
