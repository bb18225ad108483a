package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/blocklive/stagefun-sub002/internal/service"
	"github.com/blocklive/stagefun-sub002/pkg/logger"
)

const defaultPollCron = "*/15 * * * * *"

// Poller is one network's chain poller.
type Poller interface {
	Network() string
	PollOnce(ctx context.Context) error
}

type Reprocessor interface {
	Reprocess(ctx context.Context, network string) ([]*service.Summary, error)
}

// IngestionScheduler drives chain polls and the failed-event reprocess pass.
type IngestionScheduler struct {
	cron          *cron.Cron
	pollers       []Poller
	pollCrons     map[string]string
	reprocessor   Reprocessor
	reprocessCron string
	jobTimeout    time.Duration
}

func NewIngestionScheduler(reprocessor Reprocessor, reprocessCron string, jobTimeout time.Duration) *IngestionScheduler {
	return &IngestionScheduler{
		cron:          cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		pollCrons:     make(map[string]string),
		reprocessor:   reprocessor,
		reprocessCron: reprocessCron,
		jobTimeout:    jobTimeout,
	}
}

// AddPoller schedules p on spec, or every 15 seconds when spec is empty.
func (s *IngestionScheduler) AddPoller(p Poller, spec string) {
	if spec == "" {
		spec = defaultPollCron
	}
	s.pollers = append(s.pollers, p)
	s.pollCrons[p.Network()] = spec
}

func (s *IngestionScheduler) Start() error {
	for _, p := range s.pollers {
		p := p
		if _, err := s.cron.AddFunc(s.pollCrons[p.Network()], func() { s.poll(p) }); err != nil {
			return err
		}
	}
	if s.reprocessor != nil && s.reprocessCron != "" {
		if _, err := s.cron.AddFunc(s.reprocessCron, s.reprocess); err != nil {
			return err
		}
	}

	s.cron.Start()
	logger.WithFields(map[string]interface{}{
		"pollers":        len(s.pollers),
		"reprocess_cron": s.reprocessCron,
	}).Info("ingestion scheduler started")
	return nil
}

func (s *IngestionScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("ingestion scheduler stopped")
}

func (s *IngestionScheduler) jobContext() (context.Context, context.CancelFunc) {
	if s.jobTimeout > 0 {
		return context.WithTimeout(context.Background(), s.jobTimeout)
	}
	return context.WithCancel(context.Background())
}

func (s *IngestionScheduler) poll(p Poller) {
	ctx, cancel := s.jobContext()
	defer cancel()

	if err := p.PollOnce(ctx); err != nil {
		logger.WithFields(map[string]interface{}{
			"network": p.Network(),
		}).WithError(err).Error("poll failed")
	}
}

func (s *IngestionScheduler) reprocess() {
	ctx, cancel := s.jobContext()
	defer cancel()

	summaries, err := s.reprocessor.Reprocess(ctx, "")
	if err != nil {
		logger.WithError(err).Error("reprocess failed")
		return
	}
	for _, summary := range summaries {
		logger.WithFields(map[string]interface{}{
			"run_id":    summary.RunID,
			"processed": summary.Processed,
			"failed":    summary.Failed,
		}).Info("reprocessed failed events")
	}
}

// TriggerReprocess runs the reprocess pass immediately.
func (s *IngestionScheduler) TriggerReprocess() {
	s.reprocess()
}
