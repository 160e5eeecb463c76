// Package main runs the RFID tag scan reconciliation agent. It follows
// the reader gateway's live event stream, keeps a recency window of
// sighted tags, registers mappings for unmapped tags in the store, and
// exposes the resulting state to operator tooling over HTTP and
// WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/flowmart/rfid-sync-agent/buildinfo"
	"github.com/flowmart/rfid-sync-agent/config"
	"github.com/flowmart/rfid-sync-agent/logging"
)

var (
	configFlag  string
	versionFlag bool
)

func main() {
	flag.StringVar(&configFlag, "config", "", "Path to config file (optional)")
	flag.BoolVar(&versionFlag, "version", false, "Print version information and exit")
	flag.Parse()

	if versionFlag {
		fmt.Println(buildinfo.BuildInfo())
		return
	}

	cfg, err := config.Load(configFlag)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	agent := NewAgent(cfg, logger)
	if err := agent.Start(context.Background()); err != nil {
		logger.Fatal("failed to start agent", zap.Error(err))
	}
	defer agent.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("shutdown signal received, stopping agent")
}
