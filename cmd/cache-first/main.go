package main

import (
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"

	cachefirst "github.com/cache-first/cache-first"
	"github.com/cache-first/cache-first/origin"
	partition "github.com/cache-first/cache-first/pkg/partition-store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	configFilenameFlag string
	portFlag           int
	originFlag         string
	providerFlag       string
	verbosityTraceFlag bool
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	flag.StringVar(&originFlag, "origin", "", "Origin to proxy to (overrides config)")
	flag.StringVar(&providerFlag, "provider", "", "Partition store provider to use (overrides config)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
}

func main() {
	flag.Parse()

	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}
	log.Logger = log.Level(logLevel).Output(zerolog.ConsoleWriter{Out: os.Stdout})

	config, err := getConfig(configFilenameFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}
	if portFlag != 0 {
		config.Port = portFlag
	}
	if originFlag != "" {
		config.Origin = originFlag
	}
	if providerFlag != "" {
		config.Provider = providerFlag
	}

	// use configured provider, fail if unknown
	var store partition.Store
	switch config.Provider {
	case "memory":
		store = partition.NewMemStore()
	case "sqlite":
		store, err = partition.NewSQLiteStore(config.SQLiteFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not open sqlite store")
		}
	case "leveldb":
		store, err = partition.NewLevelStore(config.LevelDBPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not open leveldb store")
		}
	default:
		log.Fatal().Msgf("Unsupported partition store provider: %s", config.Provider)
	}

	originAddr := config.Origin
	if originAddr == "" {
		originAddr, err = startEmbeddedOrigin(config)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not start origin")
		}
	}

	originURL, err := url.Parse(originAddr)
	if err != nil {
		log.Fatal().Err(err).Str("origin", originAddr).Msg("Invalid origin URL")
	}

	interceptor := cachefirst.New(cachefirst.Config{
		Store:     store,
		OriginURL: *originURL,
		Logger:    &log.Logger,
	})
	interceptor.Install()
	interceptor.Activate()

	addr := fmt.Sprintf(":%d", config.Port)
	log.Info().Str("addr", addr).Str("origin", originAddr).Msg("Gateway listening")
	if err := http.ListenAndServe(addr, interceptor); err != nil {
		log.Fatal().Err(err).Msg("Gateway stopped")
	}
}

// startEmbeddedOrigin runs the demo origin in-process and returns its URL.
func startEmbeddedOrigin(config Config) (string, error) {
	var churn origin.Churn
	if config.ChurnProbability != nil {
		churn = origin.ProbabilisticChurn(*config.ChurnProbability)
	}
	items, err := origin.NewItemStore(config.ItemDBFile)
	if err != nil {
		return "", err
	}
	items.Latency = config.dbLatency()
	server, err := origin.NewServer(origin.Config{
		Churn:   churn,
		Items:   items,
		ItemTTL: config.itemTTL(),
		Logger:  &log.Logger,
	})
	if err != nil {
		return "", err
	}
	addr := fmt.Sprintf(":%d", config.OriginPort)
	go func() {
		if err := http.ListenAndServe(addr, server.Handler()); err != nil {
			log.Fatal().Err(err).Msg("Origin stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("Embedded origin listening")
	return fmt.Sprintf("http://localhost:%d", config.OriginPort), nil
}
