package services

import (
	"auction-settlement/pkg/logger"
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// CronSettlementScheduler drives the settler on a fixed interval. The period
// is a deployment parameter, not a correctness requirement: a run that is cut
// short leaves unsettled auctions active for the next tick.
type CronSettlementScheduler struct {
	cron     *cron.Cron
	settler  *Settler
	interval time.Duration
	log      logger.Logger
}

func NewCronSettlementScheduler(settler *Settler, interval time.Duration, log logger.Logger) *CronSettlementScheduler {
	return &CronSettlementScheduler{
		cron:     cron.New(cron.WithSeconds()),
		settler:  settler,
		interval: interval,
		log:      log,
	}
}

func (s *CronSettlementScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting settlement scheduler", "interval", s.interval)

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		if err := s.settler.Run(ctx); err != nil {
			s.log.Error("Settlement run failed", "error", err)
		}
	})

	if err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *CronSettlementScheduler) Stop() error {
	s.log.Info("Stopping settlement scheduler")
	s.cron.Stop()
	return nil
}
