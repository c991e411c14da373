package runtime

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/InsulaLabs/fleet/config"
	"gopkg.in/yaml.v3"
)

// Runtime manages the execution of fleetd, handling configuration,
// signal processing, and the lifecycle of the service instance.
type Runtime struct {
	appCtx     context.Context
	appCancel  context.CancelFunc
	logger     *slog.Logger
	cfg        *config.Fleet
	configFile string
	rawArgs    []string

	currentLogLevel slog.Level
}

// New creates a new Runtime instance.
// It initializes the application context, sets up signal handling,
// parses command-line flags, and loads the configuration.
func New(args []string, defaultConfigFile string) (*Runtime, error) {

	r := &Runtime{
		rawArgs: args,
	}

	r.appCtx, r.appCancel = context.WithCancel(context.Background())
	r.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("service", "fleetdRuntime")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			r.logger.Info("Received signal, initiating shutdown...", "signal", sig)
			r.appCancel()
		case <-r.appCtx.Done():
		}
	}()

	var genConfigFile string
	fs := flag.NewFlagSet("runtime", flag.ContinueOnError)
	fs.StringVar(&r.configFile, "config", defaultConfigFile, "Path to the fleet configuration file.")
	fs.StringVar(&genConfigFile, "new-cfg", "", "Generate a new configuration file to a given path.")

	if err := fs.Parse(r.rawArgs); err != nil {
		r.appCancel()
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	if genConfigFile != "" {
		if err := WriteGeneratedConfig(genConfigFile); err != nil {
			r.appCancel()
			return nil, err
		}
		r.logger.Info("Successfully generated new configuration file", "path", genConfigFile)
		return r, nil
	}

	var err error
	r.cfg, err = config.LoadConfig(r.configFile)
	if err != nil {
		r.appCancel()
		return nil, fmt.Errorf("failed to load configuration from %s: %w", r.configFile, err)
	}

	r.logger, r.currentLogLevel = NewLogger(r.cfg.Logging, os.Stderr)
	r.logger = r.logger.With("service", "fleetdRuntime", "instance", r.cfg.InstanceID)

	return r, nil
}

// WriteGeneratedConfig writes a default configuration to path as YAML.
func WriteGeneratedConfig(path string) error {
	yamlData, err := yaml.Marshal(config.GenerateConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal generated config to YAML: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for config file %s: %w", path, err)
		}
	}

	if err := os.WriteFile(path, yamlData, 0644); err != nil {
		return fmt.Errorf("failed to write generated configuration to %s: %w", path, err)
	}
	return nil
}

// Run builds every component and serves until the app context is cancelled.
func (r *Runtime) Run() error {
	if r.cfg == nil {
		// New only leaves the config unset after --new-cfg, which has already
		// done its work.
		r.logger.Info("Runtime.Run called without a loaded config (e.g., after --new-cfg). Nothing to run.")
		r.appCancel()
		return nil
	}

	c, err := buildComponents(r.appCtx, r.logger, r.cfg, r.currentLogLevel)
	if err != nil {
		r.appCancel()
		return err
	}
	defer c.Close()

	r.logger.Info("Starting fleet instance",
		"binding", r.cfg.HttpBinding,
		"engine", r.cfg.Storage.Engine,
		"file_shards", r.cfg.Replication.Shards,
		"oracle", r.cfg.Oracle.Kind)

	c.service.Run()

	// a listener failure returns without a signal, so release Wait too
	r.appCancel()
	r.logger.Info("Fleet service stopped")
	return nil
}

// Wait for the runtime to complete its operations.
// This is typically when the application context is canceled.
func (r *Runtime) Wait() {
	<-r.appCtx.Done()
	r.logger.Info("Runtime has been shut down.")
}

// Stop gracefully shuts down the runtime by canceling its context.
func (r *Runtime) Stop() {
	r.logger.Info("Runtime stop requested.")
	r.appCancel()
}

func (r *Runtime) Config() *config.Fleet {
	return r.cfg
}
