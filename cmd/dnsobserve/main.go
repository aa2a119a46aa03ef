package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/minorway/dnsobserve/internal/capture"
	"github.com/minorway/dnsobserve/internal/config"
	"github.com/minorway/dnsobserve/internal/sink"
	"github.com/minorway/dnsobserve/internal/stats"
	"github.com/minorway/dnsobserve/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	logLevel := flag.String("log-level", "info", "log level: debug/info/warn/error")
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	switch *logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		log.Fatal().Str("level", *logLevel).Msg("invalid log level")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	regstry := stats.NewRegistry()

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(regstry.Gatherer(), promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		log.Info().Str("addr", *metricsAddr).Msg("metrics endpoint listening")
	}

	source, err := capture.New(cfg.Capture, regstry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct capture backend")
	}

	sinks, err := buildSinks(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct sinks")
	}
	defer sinks.Close()

	drv := worker.New(cfg, source, sinks, regstry)
	if err := drv.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start driver")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	drv.Stop()
}

func buildSinks(cfg config.Config) (*sink.Facade, error) {
	var sinks []sink.Sink

	if cfg.Sinks.Console.Enabled {
		sinks = append(sinks, sink.NewConsoleSink(cfg.Sinks.Console.Color))
	}
	if cfg.Sinks.File.Enabled {
		fileSink, err := sink.NewFileSink(cfg.Sinks.File.OutputDir, cfg.Sinks.File.FilePrefix, cfg.Sinks.File.FileSuffix, cfg.Sinks.File.RotationInterval)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fileSink)
	}
	if cfg.Sinks.Kafka.Enabled {
		sinks = append(sinks, sink.NewKafkaSink(cfg.Sinks.Kafka.Brokers, cfg.Sinks.Kafka.Topic))
	}
	if cfg.Sinks.StatsD.Enabled {
		statsdSink, err := sink.NewStatsDSink(cfg.Sinks.StatsD.Host, cfg.Sinks.StatsD.Port, cfg.Sinks.StatsD.Prefix)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, statsdSink)
	}

	return sink.NewFacade(sinks...), nil
}
