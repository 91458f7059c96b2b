package main

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/workflow_platform/internal/runtime"
)

func newBootstrapLogger() *logrus.Entry {
	return logrus.WithField("app", "workflowd")
}

// startBackgroundRunners launches the lifecycle sweep and audit pruner on
// independent tickers and returns a function that blocks until both have
// observed ctx's cancellation and exited.
func startBackgroundRunners(ctx context.Context, rt *runtime.Runtime) func() {
	var wg sync.WaitGroup
	log := rt.Logger.Component("workflowd")

	lifecycleInterval := time.Duration(rt.Config.Scheduler.TickIntervalSeconds) * time.Second
	if lifecycleInterval <= 0 {
		lifecycleInterval = 15 * time.Second
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(lifecycleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := rt.Lifecycle.RunOnce(ctx); err != nil && ctx.Err() == nil {
					log.WithError(err).Warn("lifecycle sweep failed")
				}
			}
		}
	}()

	auditInterval := time.Hour
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(auditInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed, err := rt.AuditPruner.Run(ctx, time.Now().UTC()); err != nil && ctx.Err() == nil {
					log.WithError(err).Warn("audit prune failed")
				} else if removed > 0 {
					log.WithField("removed", removed).Info("pruned audit log")
				}
			}
		}
	}()

	return wg.Wait
}
