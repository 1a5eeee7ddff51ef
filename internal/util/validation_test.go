package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidUUID(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"550e8400-e29b-41d4-a716-446655440000", true},
		{"", false},
		{"not-a-uuid", false},
		{"550E8400-E29B-41D4-A716-446655440000", false},
		{"550e8400e29b41d4a716446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidUUID(tt.input))
		})
	}
}

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"ann@example.com", true},
		{"a.b+c@garden.co.uk", true},
		{"", false},
		{"ann", false},
		{"ann@localhost", false},
		{"Ann <ann@example.com>", false},
		{strings.Repeat("a", 250) + "@x.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidEmail(tt.input))
		})
	}
}

func TestIsValidName(t *testing.T) {
	assert.True(t, IsValidName("Basil", 10))
	assert.True(t, IsValidName("  Basil  ", 5))
	assert.False(t, IsValidName("   ", 10))
	assert.False(t, IsValidName("Sunflower patch", 5))
	assert.True(t, IsValidName("ひまわり", 4))
}
