package dispatch

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"trendwatch/internal/domain/job"
)

// SchedulerConfig contains configuration for the crawl scheduler
type SchedulerConfig struct {
	ScanInterval time.Duration
	Params       job.Params
}

// Scheduler periodically re-submits keyword crawl jobs for every
// active keyword. Conflict rejections are expected whenever a previous
// crawl is still in flight and are not errors.
type Scheduler struct {
	dispatcher *Dispatcher
	keywords   KeywordStore
	config     SchedulerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new crawl scheduler
func NewScheduler(dispatcher *Dispatcher, keywords KeywordStore, config SchedulerConfig) *Scheduler {
	if config.ScanInterval <= 0 {
		config.ScanInterval = 15 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		dispatcher: dispatcher,
		keywords:   keywords,
		config:     config,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins the periodic scan loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop stops the scan loop
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.scan()
		}
	}
}

// scan submits one crawl job per active keyword
func (s *Scheduler) scan() {
	keywords, err := s.keywords.GetActiveKeywords(s.ctx)
	if err != nil {
		log.Printf("Error listing active keywords: %v", err)
		return
	}

	for _, kw := range keywords {
		_, err := s.dispatcher.Submit(s.ctx, kw.ID, job.KindKeywordCrawl, s.config.Params)
		if err != nil && !errors.Is(err, job.ErrConflict) {
			log.Printf("Error scheduling crawl for keyword %s: %v", kw.ID, err)
		}
	}
}
