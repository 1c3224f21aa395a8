package cron

import (
	"context"

	cronv3 "github.com/robfig/cron/v3"

	"github.com/inboxpilot/mailagent/config"
	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/logger"
	"github.com/inboxpilot/mailagent/internal/tracing"
)

// CronManager runs the periodic reconciliation sweep that backstops the
// idle notifications.
type CronManager struct {
	cfg     *config.Config
	log     logger.Logger
	watcher interfaces.WatcherService
	cron    *cronv3.Cron
	jobIDs  map[string]cronv3.EntryID
}

func NewCronManager(cfg *config.Config, log logger.Logger, watcher interfaces.WatcherService) *CronManager {
	return &CronManager{
		cfg:     cfg,
		log:     log,
		watcher: watcher,
		jobIDs:  make(map[string]cronv3.EntryID),
	}
}

func (cm *CronManager) Start() {
	cm.log.Info("Starting cron manager")

	c := cronv3.New(
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		<-ctx.Done()
	}
}

func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	schedule := cm.cfg.WatcherConfig.SweepSchedule
	if schedule == "" {
		cm.log.Warn("sweep schedule is empty, reconciliation sweep disabled")
		return
	}

	id, err := c.AddFunc(schedule, cm.runSweep)
	if err != nil {
		cm.log.Fatalf("Could not add sweep cron job: %v", err)
	}
	cm.jobIDs["sweep"] = id
	cm.log.Infof("Registered sweep job with schedule: %s", schedule)
}

func (cm *CronManager) runSweep() {
	ctx := context.Background()
	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.runSweep")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	cm.log.Info("Running reconciliation sweep")
	if err := cm.watcher.Sweep(ctx); err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Reconciliation sweep failed: %v", err)
	}
}
