package simulate

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/beerduel/pkg/logger"
)

// SetupLogging routes log output to the console and a log file. If
// logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile, format string) (io.Closer, error) {
	if logFile == "" {
		logFile = "duel_sim_" + time.Now().Format("20060102_150405") + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	if err := logger.Init(logger.WithWriter(io.MultiWriter(os.Stdout, file)), logger.WithFormat(format)); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return file, nil
}

// ShowHelp prints usage information for the simulator.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`Beer Duel Simulator
===================

Registers a catalogue of beers with hidden quality, plays concurrent duels
against a running server and verifies the resulting ratings, tiers and XP.

Usage:
  go run ./cmd/duel-sim [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -items int
        Number of beers to register (default 50)
  -users int
        Number of simulated users (default 20)
  -duels int
        Duels played per user (default 100)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -top int
        Number of top beers to print (default 10)
  -seed uint
        Seed for the hidden beer quality (default 1)
  -timeout duration
        HTTP request timeout (default 30s)
  -output string
        JSON report file (default: none)
  -log string
        Log file (default: duel_sim_TIMESTAMP.log)
  -log-format string
        Log format, json or text (default "text")
  -verbose
        Log progress every second
  -help
        Show this help message

Examples:
  # Small run against a local server
  go run ./cmd/duel-sim -items 20 -users 5 -duels 50

  # Larger run with a report
  go run ./cmd/duel-sim -items 100 -users 64 -duels 500 -workers 32 -output sim.json
`)
}
