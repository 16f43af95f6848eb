package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew_Levels(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, New("debug", "json").GetLevel())
	assert.Equal(t, zerolog.WarnLevel, New("warn", "console").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, New("nonsense", "json").GetLevel(), "unknown levels fall back to info")
}
