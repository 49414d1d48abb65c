package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew_LevelParsing(t *testing.T) {
	New(Config{Level: "debug"})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	New(Config{Level: " WARN "})
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel(), "level parsing is case and whitespace tolerant")

	New(Config{Level: "bogus"})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel(), "unknown levels fall back to info")

	New(Config{Level: ""})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel(), "empty level falls back to info")
}

func TestNew_PrettyOutput(t *testing.T) {
	// Pretty mode only changes the writer; the logger must still be usable.
	log := New(Config{Level: "error", Pretty: true})
	log.Debug().Msg("suppressed")
	assert.Equal(t, zerolog.ErrorLevel, zerolog.GlobalLevel())
}
