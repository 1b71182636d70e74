package exception

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchError(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewBatchError("repository", "failed to claim job", cause, false, true)

	assert.Equal(t, "[repository] failed to claim job: connection reset", err.Error())
	assert.True(t, errors.Is(err, cause))
	assert.True(t, err.IsRetryable())
	assert.False(t, err.IsSkippable())
	assert.True(t, IsTemporary(err))
	assert.False(t, IsFatal(err))
	assert.NotEmpty(t, err.StackTrace)

	wrapped := fmt.Errorf("run: %w", err)
	assert.True(t, IsBatchError(wrapped))
	assert.True(t, IsTemporary(wrapped))

	assert.True(t, IsTemporary(errors.New("dial tcp: i/o timeout")))
	assert.False(t, IsTemporary(errors.New("syntax error")))
	assert.True(t, IsFatal(errors.New("open x: permission denied")))
	assert.False(t, IsFatal(errors.New("db down")))
	assert.False(t, IsTemporary(nil))
	assert.False(t, IsFatal(nil))
}

func TestNewBatchErrorf(t *testing.T) {
	cause := errors.New("boom")
	err := NewBatchErrorf("config", "bad value '%s'", "x", true, false, cause)

	assert.Equal(t, "bad value 'x'", err.Message)
	assert.Same(t, cause, err.OriginalErr)
	assert.True(t, err.IsSkippable())
	assert.False(t, err.IsRetryable())
	assert.True(t, IsFatal(NewBatchErrorf("config", "no flags")))
}

func TestSerializeError_RegisteredNames(t *testing.T) {
	err := NewOptimisticLockingFailureException("repo", "lost update", nil)
	assert.True(t, IsOptimisticLockingFailure(err))

	data := SerializeError(err)
	cause, ok := data["cause"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, OptimisticLockingFailureException, cause["name"])

	assert.Equal(t, "context.DeadlineExceeded", SerializeError(context.DeadlineExceeded)["name"])

	custom := errors.New("custom")
	RegisterErrorType("ErrCustom", custom)
	assert.Equal(t, "ErrCustom", SerializeError(custom)["name"])
	wrapped := SerializeError(fmt.Errorf("wrap: %w", custom))
	assert.Equal(t, "Error", wrapped["name"], "only the sentinel itself takes the registered name")
	assert.Equal(t, "ErrCustom", wrapped["cause"].(map[string]interface{})["name"])

	assert.Panics(t, func() { RegisterErrorType("", errors.New("x")) })
	assert.Panics(t, func() { RegisterErrorType("ErrNil", nil) })
}

func TestSerializeError(t *testing.T) {
	assert.Nil(t, SerializeError(nil))

	plain := SerializeError(errors.New("range failed"))
	assert.Equal(t, "Error", plain["name"])
	assert.Equal(t, "range failed", plain["message"])
	assert.NotContains(t, plain, "cause")

	batch := SerializeError(NewBatchError("runner", "panic while executing range [1, 10]", fmt.Errorf("boom"), false, false))
	assert.Equal(t, "exception.BatchError", batch["name"])
	assert.Equal(t, "runner", batch["module"])
	assert.Equal(t, "panic while executing range [1, 10]", batch["message"])
	assert.Contains(t, batch, "stack")
	cause, ok := batch["cause"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "boom", cause["message"])

	joined := SerializeError(errors.Join(errors.New("a"), errors.New("b")))
	assert.Len(t, joined["causes"], 2)

	assert.Equal(t, "Error: range failed", DescribeError(plain))
	assert.Equal(t, "", DescribeError(nil))
	assert.Equal(t, "bare", DescribeError(map[string]interface{}{"message": "bare"}))
}

func TestSerializeError_DepthIsBounded(t *testing.T) {
	var err error = errors.New("root")
	for i := 0; i < 20; i++ {
		err = fmt.Errorf("level %d: %w", i, err)
	}
	depth := 0
	for cur := SerializeError(err); cur != nil; depth++ {
		next, _ := cur["cause"].(map[string]interface{})
		cur = next
	}
	assert.Equal(t, maxCauseDepth+1, depth)
}
