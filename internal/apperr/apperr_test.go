package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusOf(NotFound("bounty not found")))
	assert.Equal(t, http.StatusBadRequest, StatusOf(fmt.Errorf("close: %w", ErrInsufficientPoints)))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("db down")))
}

func TestAs(t *testing.T) {
	e, ok := As(fmt.Errorf("wrap: %w", Forbidden("nope")))
	assert.True(t, ok)
	assert.Equal(t, "nope", e.Message)

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}
