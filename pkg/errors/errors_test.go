package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromErrorKeepsTypedErrors(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", Clone(ErrNotReadyForGraduation, "3 of 10 steps complete"))

	appErr := FromError(wrapped)
	require.NotNil(t, appErr)
	assert.Equal(t, "NOT_READY_FOR_GRADUATION", appErr.Code)
	assert.Equal(t, http.StatusPreconditionFailed, appErr.Status)
	assert.Equal(t, "3 of 10 steps complete", appErr.Message)
}

func TestFromErrorWrapsUnknownErrors(t *testing.T) {
	cause := stderrors.New("boom")

	appErr := FromError(cause)
	require.NotNil(t, appErr)
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.ErrorIs(t, appErr, cause)
	assert.Nil(t, FromError(nil))
}

func TestCloneDoesNotMutateOriginal(t *testing.T) {
	clone := Clone(ErrValidation, "content is required")

	assert.Equal(t, "content is required", clone.Message)
	assert.Equal(t, "validation failed", ErrValidation.Message)
}
