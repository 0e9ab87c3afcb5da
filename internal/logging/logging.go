// Package logging builds the driver's zerolog logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/grafana/loki-client-go/loki"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"

	"github.com/lgabp1/zdt-gocan-driver/config"
)

// serviceName tags every log line and is the fallback Loki stream label.
const serviceName = "zdt-can-driver"

// Setup creates the logger described by the configuration. Console output is
// JSON unless format is "text"; with the Loki sink enabled every entry is also
// shipped to the configured push endpoint. The returned function flushes and
// stops the sink.
func Setup(cfg config.LoggingConfig) (zerolog.Logger, func(), error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}

	writers := []io.Writer{consoleWriter(cfg.Format)}
	cleanup := func() {}
	if cfg.Loki.Enabled {
		sink, err := newLokiSink(cfg.Loki)
		if err != nil {
			return zerolog.Logger{}, nil, err
		}
		writers = append(writers, sink)
		cleanup = sink.stop
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger().
		Level(level)
	return logger, cleanup, nil
}

func parseLevel(value string) (zerolog.Level, error) {
	if value == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(value))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("parse log level: %w", err)
	}
	return level, nil
}

func consoleWriter(format string) io.Writer {
	if strings.EqualFold(format, "text") {
		return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return os.Stdout
}

// lokiSink forwards finished log lines to a Loki push endpoint. Lines are
// handed to the client as-is; batching and retries are the client's concern.
type lokiSink struct {
	client *loki.Client
	labels model.LabelSet
}

func newLokiSink(cfg config.LokiConfig) (*lokiSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("loki url is required")
	}
	lokiCfg, err := loki.NewDefaultConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("prepare loki config: %w", err)
	}
	client, err := loki.New(lokiCfg)
	if err != nil {
		return nil, fmt.Errorf("create loki client: %w", err)
	}
	return &lokiSink{client: client, labels: streamLabels(cfg.Labels)}, nil
}

// streamLabels converts the configured label map, falling back to a stream
// identifying the driver itself.
func streamLabels(configured map[string]string) model.LabelSet {
	labels := make(model.LabelSet, len(configured)+1)
	for k, v := range configured {
		labels[model.LabelName(k)] = model.LabelValue(v)
	}
	if _, ok := labels["app"]; !ok {
		labels["app"] = serviceName
	}
	return labels
}

func (s *lokiSink) Write(p []byte) (int, error) {
	entry := strings.TrimSpace(string(p))
	if entry == "" {
		return len(p), nil
	}
	err := s.client.Handle(s.labels, time.Now(), entry)
	return len(p), err
}

func (s *lokiSink) stop() {
	s.client.Stop()
}
