package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/devm-project/devm-go/pkg/config"
	"github.com/devm-project/devm-go/pkg/devm"
	"github.com/devm-project/devm-go/pkg/log"
	"github.com/devm-project/devm-go/pkg/persistence"
	"github.com/devm-project/devm-go/pkg/stack"
	"github.com/devm-project/devm-go/pkg/transport"
	"github.com/devm-project/devm-go/pkg/version"
)

// statusInterval paces the periodic status line at debug level.
const statusInterval = time.Minute

var flags struct {
	config      string
	network     string
	socket      string
	logLevel    string
	protocolLog string
	powerOn     bool
}

// loadConfig reads the configuration file and applies the flags that
// were set on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if flags.config != "" {
		data, err := os.ReadFile(flags.config)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := config.Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", flags.config, err)
		}
	}

	changed := cmd.Flags().Changed
	if changed("network") {
		cfg.Server.Network = flags.network
	}
	if changed("socket") {
		cfg.Server.Address = flags.socket
	}
	if changed("log-level") {
		cfg.Log.Level = flags.logLevel
	}
	if changed("protocol-log") {
		cfg.Log.ProtocolLog = flags.protocolLog
	}
	if changed("power-on") {
		cfg.Power.OnStart = flags.powerOn
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	logger := cfg.NewLogger()
	local, err := cfg.LocalProperties()
	if err != nil {
		return err
	}
	devices, err := cfg.SimDevices()
	if err != nil {
		return err
	}

	var capture log.Logger
	if cfg.Log.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.Log.ProtocolLog)
		if err != nil {
			return fmt.Errorf("open protocol log: %w", err)
		}
		defer fl.Close()
		capture = fl
		if logger.IsLevelEnabled(logrus.TraceLevel) {
			capture = log.NewMultiLogger(fl, log.NewLogrusAdapter(logger))
		}
	} else if logger.IsLevelEnabled(logrus.TraceLevel) {
		capture = log.NewLogrusAdapter(logger)
	}

	var store *persistence.RegistryStore
	if cfg.Registry.PersistencePath != "" {
		store = persistence.NewRegistryStore(cfg.Registry.PersistencePath)
	}

	sim := stack.NewSim(stack.SimConfig{
		Address:        local.Address,
		Devices:        devices,
		ReportInterval: cfg.Sim.ReportInterval,
		Passkey:        cfg.Sim.Passkey,
		Log:            logger,
	})
	defer sim.Close()

	m, err := devm.New(devm.Config{
		Stack:              sim,
		Local:              local,
		Features:           cfg.ActiveFeatures(),
		MaxRemoteDevices:   cfg.Registry.MaxRemoteDevices,
		DeleteOnPowerOff:   cfg.Registry.DeleteOnPowerOff,
		Store:              store,
		MaxPending:         cfg.Scheduler.MaxPending,
		ResponseTimeout:    cfg.Auth.ResponseTimeout,
		AckTimeout:         cfg.Power.AckTimeout,
		MinTimerResolution: cfg.Timers.MinResolution,
		Logger:             capture,
		Log:                logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.WithError(err).Warn("saving registry failed")
		}
	}()

	svc, err := devm.NewService(m, transport.ServerConfig{
		Network:        cfg.Server.Network,
		Address:        cfg.Server.Address,
		MaxMessageSize: cfg.Server.MaxMessageSize,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"network":  cfg.Server.Network,
		"address":  svc.Addr().String(),
		"name":     local.DeviceName,
		"features": cfg.ActiveFeatures(),
		"peers":    len(devices),
		"version":  version.String(),
	}).Info("devmd listening")

	if cfg.Power.OnStart {
		if err := m.PowerOn(); err != nil {
			logger.WithError(err).Warn("power on at start failed")
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		return svc.Stop()
	})
	g.Go(func() error {
		reportStatus(ctx, m, svc, logger)
		return nil
	})
	return g.Wait()
}

func reportStatus(ctx context.Context, m *devm.Manager, svc *devm.Service, logger logrus.FieldLogger) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.WithFields(logrus.Fields{
				"power":       m.QueryPowerState(),
				"connections": svc.ConnectionCount(),
				"devices":     m.Registry().RemoteDeviceCount(),
				"records":     m.Records().Count(),
			}).Debug("status")
		}
	}
}
