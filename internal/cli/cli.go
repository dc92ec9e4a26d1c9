// ============================================================================
// Beaver-MQ CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra-based entry point for running an embedded broker
//
// Command Structure:
//   beaver-mq                      # Root command
//   ├── run                        # Start the broker from a config file
//   │   └── --config, -c          # Config file path
//   ├── --version                  # Display version information
//   └── --help                     # Display help information
//
// Configuration Management:
//   YAML config file (default: configs/default.yaml):
//   - log_dir: WAL directory shared by all durable queues
//   - metrics: Prometheus endpoint settings
//   - queues: per-queue settings (visibility timeout, retries, DLQ)
//
// run Command:
//   1. Load config file
//   2. Build the metrics collector and queue registry
//   3. Create every configured queue (DLQs are wired by the registry)
//   4. Serve /metrics when enabled
//   5. Listen for SIGINT/SIGTERM and close every queue on the way out
//
// Signal Handling:
//   Graceful shutdown closes each queue: the visibility scanner is joined
//   and the WAL is flushed and released, so the next run recovers cleanly.
//
// ============================================================================

package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/beaver-mq/internal/metrics"
	"github.com/ChuLiYu/beaver-mq/internal/registry"
	"github.com/ChuLiYu/beaver-mq/pkg/types"
)

var log = slog.Default()

// Config represents the broker configuration file.
type Config struct {
	LogDir string `yaml:"log_dir"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Queues []QueueSpec `yaml:"queues"`
}

// QueueSpec is one queue's section of the config file. Durations are
// integer milliseconds for YAML portability.
type QueueSpec struct {
	Name                string `yaml:"name"`
	VisibilityTimeoutMs int    `yaml:"visibility_timeout_ms"`
	ScanIntervalMs      int    `yaml:"scan_interval_ms"`
	MaxRetries          int    `yaml:"max_retries"`
	DeadLetterQueue     string `yaml:"dead_letter_queue"`
	Durable             bool   `yaml:"durable"`
	WALBatchSize        int    `yaml:"wal_batch_size"`
	WALFlushIntervalMs  int    `yaml:"wal_flush_interval_ms"`
}

// queueConfig converts a spec into engine settings. Zero fields fall back
// to engine defaults.
func (s QueueSpec) queueConfig(logDir string) types.QueueConfig {
	cfg := types.QueueConfig{
		VisibilityTimeout: time.Duration(s.VisibilityTimeoutMs) * time.Millisecond,
		ScanInterval:      time.Duration(s.ScanIntervalMs) * time.Millisecond,
		MaxRetries:        s.MaxRetries,
		DeadLetterQueue:   s.DeadLetterQueue,
		WALBatchSize:      s.WALBatchSize,
		WALFlushInterval:  time.Duration(s.WALFlushIntervalMs) * time.Millisecond,
	}
	if s.Durable {
		cfg.LogDir = logDir
	}
	return cfg.WithDefaults()
}

var configFile string

// BuildCLI assembles the command tree.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "beaver-mq",
		Short: "Beaver-MQ: an embeddable, crash-recoverable message broker",
		Long: `Beaver-MQ is an in-process message broker with:
- Named queues with at-least-once delivery
- Visibility-timeout redelivery and bounded retries
- Dead-letter routing
- WAL-based crash recovery
- Prometheus metrics`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the broker with the queues from the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBroker()
		},
	}
}

func runBroker() error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	collector := metrics.NewCollector()
	reg := registry.New(registry.WithCollector(collector))

	for _, spec := range cfg.Queues {
		if _, err := reg.CreateQueue(spec.Name, spec.queueConfig(cfg.LogDir)); err != nil {
			reg.Close()
			return fmt.Errorf("failed to create queue %q: %w", spec.Name, err)
		}
	}

	log.Info("broker started",
		"queues", reg.ListQueues(),
		"log_dir", cfg.LogDir)

	if cfg.Metrics.Enabled {
		go serveMetrics(collector, cfg.Metrics.Port)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	log.Info("shutting down", "signal", sig.String())
	reg.Close()
	return nil
}

func serveMetrics(collector *metrics.Collector, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	addr := fmt.Sprintf(":%d", port)
	log.Info("metrics endpoint up", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server failed", "error", err)
	}
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
