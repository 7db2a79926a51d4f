package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/gezibash/ocpp-node/internal/config"
	"github.com/gezibash/ocpp-node/internal/observability"
	"github.com/gezibash/ocpp-node/pkg/node"
)

// CommandConfig configures a CLI command that runs against a node.
type CommandConfig struct {
	// Name identifies this command in logs and the log file name.
	Name string

	// Viper holds the command's configuration.
	Viper *viper.Viper

	// Timeout for the command operation. Zero means no timeout.
	Timeout time.Duration

	// Foreground sends logs to stderr instead of data_dir/log/<name>.log.
	Foreground bool

	// ServeMetrics starts the metrics endpoint when metrics_addr is set.
	ServeMetrics bool

	// Run is the command's business logic.
	Run func(ctx context.Context, n *node.Node, out *Output) error
}

// ConfigCommand configures a CLI command that needs configuration but no
// running node.
type ConfigCommand struct {
	Name  string
	Viper *viper.Viper
	Run   func(ctx context.Context, cfg config.Config, obs *observability.Observability, out *Output) error
}

// RunCommand loads config, sets up observability, opens the node, runs the
// command and closes everything in reverse order.
func RunCommand(cfg CommandConfig) error {
	if cfg.Run == nil {
		return fmt.Errorf("run function required")
	}
	return run(cfg.Name, cfg.Viper, cfg.Foreground, cfg.Timeout,
		func(ctx context.Context, c config.Config, obs *observability.Observability, out *Output) error {
			if cfg.ServeMetrics && c.Observability.MetricsAddr != "" {
				obs.ServeMetrics(c.Observability.MetricsAddr)
			}
			n, err := node.Open(ctx, c, obs)
			if err != nil {
				return fmt.Errorf("open node: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := n.Close(closeCtx); err != nil {
					obs.Logger.Warn("node close", "error", err)
				}
			}()
			return cfg.Run(ctx, n, out)
		})
}

// RunConfigCommand is RunCommand without opening a node.
func RunConfigCommand(cfg ConfigCommand) error {
	if cfg.Run == nil {
		return fmt.Errorf("run function required")
	}
	return run(cfg.Name, cfg.Viper, false, 0, cfg.Run)
}

func run(name string, v *viper.Viper, foreground bool, timeout time.Duration,
	fn func(context.Context, config.Config, *observability.Observability, *Output) error,
) error {
	if name == "" {
		return fmt.Errorf("command name required")
	}
	if v == nil {
		return fmt.Errorf("viper required")
	}

	c, err := config.Load(v, v.GetString("config"))
	if err != nil {
		return err
	}

	var logw io.Writer = os.Stderr
	if !foreground {
		f, err := openLogFile(c.DataDir, name)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		logw = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, observability.ObsConfig{
		LogLevel:       c.Observability.LogLevel,
		LogFormat:      c.Observability.LogFormat,
		OTLPEndpoint:   c.Observability.OTLPEndpoint,
		OTLPProtocol:   c.Observability.OTLPProtocol,
		SampleRatio:    c.Observability.SampleRatio,
		ServiceName:    c.Observability.ServiceName,
		ServiceVersion: c.Observability.ServiceVersion,
		NodeID:         string(c.NodeID),
	}, logw)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	obs.Logger = obs.Logger.With("command", name)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Close(closeCtx)
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return fn(ctx, c, obs, NewOutputFromViper(v, os.Stdout))
}

func openLogFile(dataDir, name string) (*os.File, error) {
	dir := filepath.Join(dataDir, "log")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, name+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
