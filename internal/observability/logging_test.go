package observability

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerHonorsLevelEnv(t *testing.T) {
	t.Setenv("PERPSCOPE_LOG_LEVEL", "warn")
	log := NewLogger("perpscope")
	if log.GetLevel() != zerolog.WarnLevel {
		t.Errorf("level = %s, want warn", log.GetLevel())
	}
}

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	t.Setenv("PERPSCOPE_LOG_LEVEL", "")
	log := NewLogger("keeper")
	if log.GetLevel() != zerolog.InfoLevel {
		t.Errorf("level = %s, want info", log.GetLevel())
	}
}

func TestParseLogLevelUnknownFallsBack(t *testing.T) {
	if got := parseLogLevel("verbose"); got != zerolog.InfoLevel {
		t.Errorf("unknown level should fall back to info, got %s", got)
	}
}
