package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	offlineproxy "github.com/sm113/offline-proxy"
	"github.com/sm113/offline-proxy/cache"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	portFlag           int
	configFilenameFlag string
	originFlag         string
	dbFilenameFlag     string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "offline-proxy.yaml", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config)")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&dbFilenameFlag, "db", "offline.db", "Cache DB file name (use 'memory' for in-memory db)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	config, err := offlineproxy.LoadConfig(configFilenameFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not read config file")
	}
	if originFlag != "" {
		config.Origin = originFlag
	}
	if config.Origin == "" {
		log.Fatal().Msg("Please specify origin")
	}
	if config.Version == "" {
		log.Fatal().Msg("Please specify cache version tag")
	}

	originURL, err := url.Parse(config.Origin)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse origin url")
	}

	// set up sqlite provider
	dbFilename := dbFilenameFlag
	if dbFilename == "memory" {
		dbFilename = "file::memory:?cache=shared"
	}
	store, err := cache.NewSQLiteStore(dbFilename)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open cache store")
	}

	worker := offlineproxy.CreateWorker(offlineproxy.Config{
		Store:          store,
		Version:        config.Version,
		OriginURL:      *originURL,
		OriginHost:     config.Host,
		APIHost:        config.APIHost,
		APIPathSegment: config.APIPathSegment,
		StaticPrefix:   config.StaticPrefix,
		Assets:         config.Assets,
		FallbackPath:   config.FallbackPage,
		WriteThrough:   config.WriteThrough,
		Logger:         &log.Logger,
	})

	ctx := context.Background()
	if err := worker.Install(ctx); err != nil {
		log.Fatal().Err(err).Msg("Install failed")
	}
	if err := worker.Activate(); err != nil {
		log.Fatal().Err(err).Msg("Activate failed")
	}

	r := chi.NewRouter()
	r.Handle("/*", worker)

	log.Info().Msgf("Proxying port %v to %s (cache bucket '%s')", portFlag, originURL.String(), config.Version)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", portFlag), r); err != nil {
		panic(err)
	}
}
