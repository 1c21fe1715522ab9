package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected int
	}{
		{"unset uses default", "", 5000},
		{"valid value", "250", 250},
		{"whitespace is trimmed", " 42 ", 42},
		{"invalid value uses default", "abc", 5000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ILR_TEST_INT", tt.value)
			assert.Equal(t, tt.expected, GetEnvInt("ILR_TEST_INT", 5000))
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value    string
		expected bool
	}{
		{"", true},
		{"false", false},
		{"0", false},
		{"NO", false},
		{"yes", true},
		{"garbage", true},
	}

	for _, tt := range tests {
		t.Run("value="+tt.value, func(t *testing.T) {
			t.Setenv("ILR_TEST_BOOL", tt.value)
			assert.Equal(t, tt.expected, GetEnvBool("ILR_TEST_BOOL", true))
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("ILR_TEST_DURATION", "90s")
	assert.Equal(t, 90*time.Second, GetEnvDuration("ILR_TEST_DURATION", time.Minute))

	t.Setenv("ILR_TEST_DURATION", "soon")
	assert.Equal(t, time.Minute, GetEnvDuration("ILR_TEST_DURATION", time.Minute))
}

func TestGetEnvLogLevel(t *testing.T) {
	t.Setenv("ILR_TEST_LEVEL", "WARN")
	assert.Equal(t, slog.LevelWarn, GetEnvLogLevel("ILR_TEST_LEVEL", slog.LevelInfo))

	t.Setenv("ILR_TEST_LEVEL", "verbose")
	assert.Equal(t, slog.LevelInfo, GetEnvLogLevel("ILR_TEST_LEVEL", slog.LevelInfo))
}

func TestParseCommaSeparatedList(t *testing.T) {
	assert.Equal(t, []string{}, ParseCommaSeparatedList(""))
	assert.Equal(t, []string{"a", "b", "c"}, ParseCommaSeparatedList("a, b,,c "))
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("ILR_TEST_LIST", "")
	assert.Nil(t, GetEnvList("ILR_TEST_LIST", nil))

	t.Setenv("ILR_TEST_LIST", "http://w1:8081,http://w2:8081")
	assert.Equal(t, []string{"http://w1:8081", "http://w2:8081"}, GetEnvList("ILR_TEST_LIST", nil))
}
