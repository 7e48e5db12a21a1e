package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/jrsteele09/go-consent-server/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

// TestSetupWriter_JSON verifies structured output and level filtering outside DEV.
func TestSetupWriter_JSON(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	logging.SetupWriter(&buf, "warn", "PROD")

	log.Info().Msg("hidden")
	log.Warn().Str("challenge", "abc").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "shown", line["message"])
	require.Equal(t, "abc", line["challenge"])
}

// TestSetupWriter_BadLevel falls back to info.
func TestSetupWriter_BadLevel(t *testing.T) {
	var buf bytes.Buffer
	logging.SetupWriter(&buf, "nonsense", "PROD")
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
