package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_Error(t *testing.T) {
	err := NewValidationError("security", "signing_secret_env", ErrMissingRequiredField)
	assert.Equal(t, "security: field 'signing_secret_env': missing required field", err.Error())
	assert.True(t, errors.Is(err, ErrMissingRequiredField))
}

func TestValidationError_Error_NoField(t *testing.T) {
	err := NewValidationError("cluster", "", ErrInvalidValue)
	assert.Equal(t, "cluster: invalid field value", err.Error())
}

func TestLoadError_Error(t *testing.T) {
	err := NewLoadError("agentforge.yaml", ErrConfigNotFound)
	assert.Contains(t, err.Error(), "agentforge.yaml")
	assert.True(t, errors.Is(err, ErrConfigNotFound))
}
