package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	cause := errors.New("disk full")
	err := PersistenceError("Failed to write style.", cause)

	assert.Equal(t, "Failed to write style.", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "persistence: Failed to write style. (disk full)", err.Cause())
	assert.Equal(t, "validation: Plugin not found.", ValidationError("Plugin not found.", nil).Cause())
}

func TestMessage(t *testing.T) {
	wrapped := fmt.Errorf("add: %w", RemoteFetchError("Failed to get meta.", nil))
	assert.Equal(t, "Failed to get meta.", Message(wrapped, "fallback"))
	assert.Equal(t, "fallback", Message(errors.New("boom"), "fallback"))
}
