package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lgabp1/zdt-gocan-driver/config"
)

func TestSetupDefaults(t *testing.T) {
	logger, cleanup, err := Setup(config.LoggingConfig{})
	require.NoError(t, err)
	require.NotNil(t, cleanup)
	require.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	cleanup()
}

func TestSetupLevelAndTextFormat(t *testing.T) {
	logger, cleanup, err := Setup(config.LoggingConfig{Level: "Debug", Format: "text"})
	require.NoError(t, err)
	require.Equal(t, zerolog.DebugLevel, logger.GetLevel())
	cleanup()
}

func TestSetupInvalidLevel(t *testing.T) {
	_, _, err := Setup(config.LoggingConfig{Level: "shouting"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse log level")
}

func TestSetupLokiRequiresURL(t *testing.T) {
	_, _, err := Setup(config.LoggingConfig{Loki: config.LokiConfig{Enabled: true}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "loki url")
}

func TestStreamLabels(t *testing.T) {
	labels := streamLabels(nil)
	require.Equal(t, serviceName, string(labels["app"]))

	labels = streamLabels(map[string]string{"app": "bench", "rig": "a1"})
	require.Equal(t, "bench", string(labels["app"]))
	require.Equal(t, "a1", string(labels["rig"]))
}
