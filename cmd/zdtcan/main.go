package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lgabp1/zdt-gocan-driver/config"
	"github.com/lgabp1/zdt-gocan-driver/driver"
	"github.com/lgabp1/zdt-gocan-driver/internal/logging"
	"github.com/lgabp1/zdt-gocan-driver/queue"
	"github.com/lgabp1/zdt-gocan-driver/registry"
	"github.com/lgabp1/zdt-gocan-driver/telemetry"
	"github.com/lgabp1/zdt-gocan-driver/transport"

	_ "github.com/lgabp1/zdt-gocan-driver/transport/virtual"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to configuration file")
	configCheck := flag.Bool("config-check", false, "Validate configuration and exit")
	monitor := flag.String("monitor", "", "Comma separated CAN ids to dump, e.g. 0x101,0x102")
	send := flag.String("send", "", "One-shot send as id:hexpayload, e.g. 0x101:DEADBEEF")
	sendTimeout := flag.Duration("send-timeout", time.Second, "Send timeout")
	metricsListen := flag.String("metrics-listen", "", "Prometheus metrics listen address")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *configCheck {
		fmt.Println("configuration ok")
		return
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	collector := telemetry.Collector(telemetry.Noop())
	if *metricsListen != "" {
		promReg := prometheus.NewRegistry()
		prom, err := telemetry.NewPrometheusCollector(promReg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to register metrics")
		}
		collector = prom
		go serveMetrics(*metricsListen, promReg, logger)
	}

	store := queue.NewStore(collector)
	reg := registry.New(store, logger, collector)
	reg.SetPollTimeout(cfg.PollTimeout.Duration)

	d := driver.New(cfg.Transport, cfg.Channel, cfg.Bitrate,
		driver.WithLogger(logger),
		driver.WithRegistry(reg),
		driver.WithMaxQueueSize(cfg.MaxQueueSize),
		driver.WithTransportConfig(transport.Config{
			Bitrate:     cfg.Bitrate,
			DataBitrate: cfg.DataBitrate,
			FD:          cfg.FD,
		}),
	)
	if err := d.Open(); err != nil {
		logger.Fatal().Err(err).Msg("failed to open bus")
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close bus")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *send != "" {
		msg, err := parseSendSpec(*send)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid send spec")
		}
		ok, err := d.Send(msg, *sendTimeout)
		if err != nil {
			logger.Fatal().Err(err).Msg("send failed")
		}
		if !ok {
			logger.Error().Uint32("id", msg.ID).Msg("send timed out")
			os.Exit(1)
		}
	}

	if *monitor != "" {
		ids, err := parseIDList(*monitor)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid monitor spec")
		}
		runMonitor(ctx, d, ids, cfg.CheckFrequency)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
	}
}

// runMonitor dumps buffered frames for the given ids until interrupted.
func runMonitor(ctx context.Context, d *driver.Driver, ids []uint32, checkFrequency float64) {
	const window = 100 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		for _, id := range ids {
			msg, ok, err := d.ReceiveFrom(id, window, checkFrequency)
			if err != nil {
				log.Error().Err(err).Uint32("id", id).Msg("receive failed")
				return
			}
			if ok {
				fmt.Printf("0x%X  [%d]  %s\n", msg.ID, len(msg.Data), strings.ToUpper(hex.EncodeToString(msg.Data)))
			}
		}
	}
}

func parseIDList(value string) ([]uint32, error) {
	parts := strings.Split(value, ",")
	ids := make([]uint32, 0, len(parts))
	for _, part := range parts {
		id, err := parseID(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseID(value string) (uint32, error) {
	id, err := strconv.ParseUint(value, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid CAN id %q: %w", value, err)
	}
	return uint32(id), nil
}

func parseSendSpec(value string) (transport.Message, error) {
	idPart, payloadPart, found := strings.Cut(value, ":")
	if !found {
		return transport.Message{}, fmt.Errorf("send spec %q must have the form id:hexpayload", value)
	}
	id, err := parseID(strings.TrimSpace(idPart))
	if err != nil {
		return transport.Message{}, err
	}
	payload, err := hex.DecodeString(strings.TrimSpace(payloadPart))
	if err != nil {
		return transport.Message{}, fmt.Errorf("invalid payload %q: %w", payloadPart, err)
	}
	return transport.Message{ID: id, Data: payload, Extended: id > 0x7FF}, nil
}
