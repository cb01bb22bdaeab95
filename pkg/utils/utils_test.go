package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"studiolink/pkg/validation"
)

func TestNewPeerToken(t *testing.T) {
	a := NewPeerToken()
	b := NewPeerToken()

	assert.NotEqual(t, a, b)
	assert.Len(t, a, 32)
	assert.NoError(t, validation.ValidatePeerToken(a))
}

func TestGenerateID(t *testing.T) {
	id1 := GenerateID("test")
	id2 := GenerateID("test")

	assert.NotEqual(t, id1, id2)
	assert.True(t, strings.HasPrefix(id1, "test_"))
	assert.True(t, strings.HasPrefix(GenerateRequestID(), "req_"))
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"normal string", "Cam A", "Cam A"},
		{"with control chars", "Cam\x00A", "CamA"},
		{"with newline", "Cam\nA", "CamA"},
		{"with whitespace", "  Cam A  ", "Cam A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeString(tt.input))
		})
	}
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "hello", TruncateString("hello", 10))
	assert.Equal(t, "hello w...", TruncateString("hello world!", 10))
	assert.Equal(t, "he", TruncateString("hello", 2))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{1500 * time.Millisecond, "1.50s"},
		{90 * time.Second, "1m30s"},
		{2*time.Hour + 5*time.Minute, "2h5m"},
		{76 * time.Hour, "3d4h"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.d))
	}
}

func TestSince_UsesNow(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	orig := Now
	Now = func() time.Time { return base.Add(3 * time.Second) }
	defer func() { Now = orig }()

	assert.Equal(t, 3*time.Second, Since(base))
}
