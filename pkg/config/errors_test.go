package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *ValidationError
		contains []string
	}{
		{
			name: "wrapped sentinel",
			err:  NewValidationError("autonomy_level", ErrInvalidValue),
			contains: []string{
				"autonomy_level",
				"invalid field value",
			},
		},
		{
			name: "missing field",
			err:  NewValidationError("state_dir", ErrMissingRequiredField),
			contains: []string{
				"state_dir",
				"missing required field",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, substr := range tt.contains {
				assert.Contains(t, errStr, substr)
			}
		})
	}
}

func TestValidationErrorUnwrap(t *testing.T) {
	baseErr := errors.New("base error")
	validationErr := NewValidationError("thresholds.cpu_pct", baseErr)

	assert.Equal(t, baseErr, validationErr.Unwrap())
	assert.True(t, errors.Is(validationErr, baseErr))
}

func TestLoadErrorError(t *testing.T) {
	err := NewLoadError("/etc/warden/config.yaml", errors.New("yaml: unmarshal error"))

	errStr := err.Error()
	assert.Contains(t, errStr, "failed to load")
	assert.Contains(t, errStr, "/etc/warden/config.yaml")
	assert.Contains(t, errStr, "unmarshal error")
}

func TestLoadErrorUnwrap(t *testing.T) {
	loadErr := NewLoadError("config.yaml", ErrInvalidYAML)
	assert.True(t, errors.Is(loadErr, ErrInvalidYAML))
}
