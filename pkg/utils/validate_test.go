package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateUsername(t *testing.T) {
	assert.NoError(t, ValidateUsername("alice_01"))
	assert.Error(t, ValidateUsername("ab"))
	assert.Error(t, ValidateUsername("_alice"))
	assert.Error(t, ValidateUsername("al ice"))
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, ValidatePassword("123456"))
	assert.Error(t, ValidatePassword("12345"))
}

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, ValidateEmail("a@example.com"))
	assert.Error(t, ValidateEmail("not-an-email"))
	assert.Error(t, ValidateEmail("Alice <a@example.com>"))
}
