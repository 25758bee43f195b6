package main

import (
	"context"
	"time"

	"GuardLane/internal/biz"
	"GuardLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// StartMaintenanceCron starts the periodic maintenance jobs:
//   - hourly pruning of the governance update log past its retention
//   - a dead-letter backlog sweep every five minutes so an unattended
//     backlog keeps showing up in the logs, not just the one-shot alert
func StartMaintenanceCron(governance *biz.GovernanceUsecase, dlq *biz.DeadLetterUsecase, gc *conf.Governance, logger log.Logger) (*cron.Cron, func()) {
	helper := log.NewHelper(logger)

	retention := 7 * 24 * time.Hour
	if gc != nil && gc.UpdateLogRetention != nil && gc.UpdateLogRetention.AsDuration() > 0 {
		retention = gc.UpdateLogRetention.AsDuration()
	}

	c := cron.New(cron.WithSeconds())

	// Hourly, on the hour
	_, err := c.AddFunc("0 0 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if _, err := governance.PruneUpdateLog(ctx, retention); err != nil {
			helper.Errorw("msg", "governance update log pruning failed", "error", err)
		}
	})
	if err != nil {
		helper.Errorw("msg", "failed to register governance pruning job", "error", err)
	}

	// Every 5 minutes
	_, err = c.AddFunc("0 */5 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		count, err := dlq.CountUnresolved(ctx)
		if err != nil {
			helper.Errorw("msg", "dead letter backlog sweep failed", "error", err)
			return
		}
		if count > 0 {
			helper.Warnw("msg", "unresolved dead letter backlog", "count", count)
		}
	})
	if err != nil {
		helper.Errorw("msg", "failed to register dead letter sweep job", "error", err)
	}

	c.Start()
	helper.Info("maintenance cron jobs started")

	cleanup := func() {
		helper.Info("stopping maintenance cron jobs")
		<-c.Stop().Done()
	}
	return c, cleanup
}
