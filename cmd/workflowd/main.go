// Command workflowd runs the workflow-orchestration platform's background
// runners: lifecycle compaction/retention sweeps and audit-log pruning. It
// starts no trigger schedule materialization loop. Grounded on the teacher's cmd/indexer
// main.go: load config, build the service, start it against a cancellable
// context, wait for SIGINT/SIGTERM, stop cleanly.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/R3E-Network/workflow_platform/internal/config"
	"github.com/R3E-Network/workflow_platform/internal/runtime"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config overlay (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("load config", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		fatal("build runtime", err)
	}
	defer rt.Close()

	log := rt.Logger.Component("workflowd")
	log.Info("starting background runners")

	stop := startBackgroundRunners(ctx, rt)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
	stop()
}

func fatal(action string, err error) {
	l := newBootstrapLogger()
	l.WithError(err).Fatalf("%s", action)
}
