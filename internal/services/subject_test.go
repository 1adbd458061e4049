package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectHasher(t *testing.T) {
	h, err := NewSubjectHasher("test-key")
	require.NoError(t, err)

	a, err := h.Ref("Student-2024-001")
	require.NoError(t, err)
	b, err := h.Ref("  student-2024-001 ")
	require.NoError(t, err)
	assert.Equal(t, a, b, "identity is normalized")
	assert.Len(t, a, 64)
	assert.NotContains(t, a, "student")

	other, err := NewSubjectHasher("another-key")
	require.NoError(t, err)
	c, err := other.Ref("student-2024-001")
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "refs depend on the key")

	_, err = h.Ref("   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNewSubjectHasher_KeyLength(t *testing.T) {
	_, err := NewSubjectHasher("")
	assert.Error(t, err)
	_, err = NewSubjectHasher(strings.Repeat("k", 65))
	assert.Error(t, err)
}
