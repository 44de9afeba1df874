package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/minefleet/asicscan/pkg/discovery"
)

// rootState carries the flag values and the lazily built logger shared by
// every subcommand.
type rootState struct {
	timeout     time.Duration
	concurrency int
	logLevel    string
	configPath  string
	envFile     string

	cfg    *fleetConfig
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	state := &rootState{}

	root := &cobra.Command{
		Use:           "asicscan",
		Short:         "Discover and inspect ASIC miners on the local network",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(state.configPath, state.envFile)
			if err != nil {
				return err
			}
			state.cfg = cfg

			logger, err := newLogger(state.logLevel)
			if err != nil {
				return err
			}
			state.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if state.logger != nil {
				_ = state.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.DurationVar(&state.timeout, "timeout", discovery.DefaultDiscoveryTimeout,
		"per-device probe timeout")
	flags.IntVar(&state.concurrency, "concurrency", 0,
		"concurrent addresses in flight (0 picks a value from the scan size)")
	flags.StringVar(&state.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&state.configPath, "config", "", "fleet config file (YAML)")
	flags.StringVar(&state.envFile, "env-file", "", "env file with ASICSCAN_* credentials")

	root.AddCommand(newScanCommand(state))
	root.AddCommand(newResolveCommand(state))
	root.AddCommand(newCollectCommand(state))
	return root
}

func newLogger(level string) (*zap.Logger, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zap.NewDevelopment()
	case "info", "warn", "error":
		cfg := zap.NewProductionConfig()
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = lvl
		return cfg.Build()
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
}

// factoryOptions assembles the discovery options every subcommand shares.
func (s *rootState) factoryOptions() []discovery.Option {
	opts := []discovery.Option{
		discovery.WithTimeout(s.timeout),
		discovery.WithCredentials(s.cfg.credentials()),
		discovery.WithLogger(s.logger),
	}
	if s.concurrency > 0 {
		opts = append(opts, discovery.WithConcurrency(s.concurrency))
	} else if s.cfg.Concurrency > 0 {
		opts = append(opts, discovery.WithConcurrency(s.cfg.Concurrency))
	}
	if s.timeout == discovery.DefaultDiscoveryTimeout && s.cfg.Timeout > 0 {
		opts[0] = discovery.WithTimeout(time.Duration(s.cfg.Timeout))
	}
	return opts
}

// targetOption maps one scan-target argument onto a factory option. A slash
// means CIDR, a dash means range, anything else is a host.
func targetOption(target string) discovery.Option {
	switch {
	case strings.Contains(target, "/"):
		return discovery.WithSubnet(target)
	case strings.Contains(target, "-"):
		return discovery.WithRange(target)
	default:
		return discovery.WithHosts(target)
	}
}
