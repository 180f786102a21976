package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scanline-labs/houbridge/config"
	"github.com/scanline-labs/houbridge/conn"
	houotel "github.com/scanline-labs/houbridge/otel"
	"github.com/scanline-labs/houbridge/server"
	"github.com/scanline-labs/houbridge/store"
)

// Version is stamped by main from the build info.
var Version = "dev"

// NewServeCmd creates the "serve" subcommand: the MCP server on stdio.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Houdini bridge tools over MCP on stdio",
		RunE:  runServe,
	}

	cmd.Flags().String("config", "", "Path to houbridge.yaml")
	cmd.Flags().String("call-log-path", "", "Path to the invocation log database (default: ~/.houbridge/houbridge.db)")
	cmd.Flags().String("cache-path", "", "Persist the enumeration cache to this SQLite file")
	cmd.Flags().String("otlp-endpoint", "", "OTLP HTTP collector for traces (host:port)")
	cmd.Flags().Bool("otlp-insecure", false, "Use plain HTTP for the OTLP exporter")
	cmd.Flags().Bool("verbose", false, "Enable debug logging")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	callLogPath, _ := cmd.Flags().GetString("call-log-path")
	cachePath, _ := cmd.Flags().GetString("cache-path")
	otlpEndpoint, _ := cmd.Flags().GetString("otlp-endpoint")
	otlpInsecure, _ := cmd.Flags().GetBool("otlp-insecure")
	verbose, _ := cmd.Flags().GetBool("verbose")

	logger := newLogger(verbose)

	cfg, err := config.Load(configPath)
	if err != nil {
		return exitError(2, "loading config: %v", err)
	}
	if otlpEndpoint == "" {
		otlpEndpoint = cfg.OTLPEndpoint
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := houotel.Setup(ctx, houotel.SetupConfig{
		ServiceName:    "houbridge",
		ServiceVersion: Version,
		Endpoint:       otlpEndpoint,
		Insecure:       otlpInsecure,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	b, err := buildBridge(cfg, cachePath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.manager.Disconnect(); err != nil {
			logger.Warn("disconnect failed", "error", err)
		}
	}()

	if callLogPath == "" {
		callLogPath = cfg.CallLogPath
	}
	if callLogPath == "" {
		callLogPath, err = store.DefaultPath()
		if err != nil {
			return err
		}
	}
	callLog, err := store.OpenCallLog(callLogPath)
	if err != nil {
		return fmt.Errorf("opening call log: %w", err)
	}
	defer func() {
		_ = callLog.Close()
	}()

	health, err := conn.NewHealthMonitor(conn.HealthMonitorConfig{
		Manager:  b.manager,
		Interval: cfg.HealthInterval,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	maintenance, err := server.NewMaintenance(server.MaintenanceConfig{
		Schedule:      cfg.MaintenanceSchedule,
		Cache:         b.cache,
		CallLog:       callLog,
		CallLogMaxAge: cfg.CallLogMaxAge,
		Health:        health,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	maintenance.Start()
	defer maintenance.Stop()

	srv, err := server.New(server.Config{
		Name:     "houbridge",
		Version:  Version,
		Tools:    server.BridgeTools(b.client),
		Recorder: callLog,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	logger.Info("serving MCP on stdio",
		"endpoint", b.manager.Endpoint(),
		"call_log", callLogPath)

	err = srv.Serve(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("client disconnected, shutting down")
	// Give in-flight log writes a moment before the deferred teardown.
	time.Sleep(50 * time.Millisecond)
	return nil
}
