package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/beerduel/internal/simulate"
	"github.com/okian/beerduel/pkg/logger"
)

// Default configuration constants.
const (
	defaultItems      = 50
	defaultUsers      = 20
	defaultDuels      = 100
	defaultTopN       = 10
	defaultWorkers    = 2 // multiplier for runtime.NumCPU()
	defaultTimeout    = 30 * time.Second
	defaultRunTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		items      = flag.Int("items", defaultItems, "Number of beers to register")
		users      = flag.Int("users", defaultUsers, "Number of simulated users")
		duels      = flag.Int("duels", defaultDuels, "Duels played per user")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		topN       = flag.Int("top", defaultTopN, "Number of top beers to print")
		seed       = flag.Uint64("seed", 1, "Seed for the hidden beer quality")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		outputFile = flag.String("output", "", "JSON report file")
		logFile    = flag.String("log", "", "Log file (default: duel_sim_TIMESTAMP.log)")
		logFormat  = flag.String("log-format", "text", "Log format: json or text")
		verbose    = flag.Bool("verbose", false, "Log progress every second")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return
	}

	closer, err := simulate.SetupLogging(*logFile, *logFormat)
	if err != nil {
		_, _ = os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = closer.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	cfg := &simulate.Config{
		BaseURL:    *baseURL,
		Items:      *items,
		Users:      *users,
		Duels:      *duels,
		Workers:    *workers,
		TopN:       *topN,
		Seed:       *seed,
		Timeout:    *timeout,
		OutputFile: *outputFile,
		Verbose:    *verbose,
	}

	if _, err := simulate.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "simulation failed", logger.Error(err))
		_ = logger.Sync()
		_ = closer.Close()
		os.Exit(1)
	}
	_ = logger.Sync()
}
