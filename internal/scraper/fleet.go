package scraper

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/talentscout/internal/browser"
	"github.com/ternarybob/talentscout/internal/common"
	"github.com/ternarybob/talentscout/internal/models"
)

// Fleet fans independent sessions out across the keyword x location cross
// product under a fixed concurrency limit. Sessions share only the record
// store and the oracle rate limiter; each owns its driver and visit memory.
type Fleet struct {
	cfg       *common.Config
	store     RecordStore
	advisor   Advisor
	newDriver DriverFactory
	pacing    browser.Pacing
	selectors Selectors
	limiter   *rate.Limiter
	logger    arbor.ILogger

	errorsMu sync.Mutex
	errors   []error
}

// NewFleet creates a fleet orchestrator
func NewFleet(cfg *common.Config, store RecordStore, advisor Advisor, newDriver DriverFactory, pacing browser.Pacing, logger arbor.ILogger) *Fleet {
	var limiter *rate.Limiter
	if interval, err := time.ParseDuration(cfg.LLM.RateLimit); err == nil && interval > 0 {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	if pacing == nil {
		pacing = browser.NoPacing{}
	}

	return &Fleet{
		cfg:       cfg,
		store:     store,
		advisor:   advisor,
		newDriver: newDriver,
		pacing:    pacing,
		selectors: DefaultSelectors(),
		limiter:   limiter,
		logger:    logger,
	}
}

// SetSelectors overrides the target site's selector set
func (f *Fleet) SetSelectors(selectors Selectors) {
	f.selectors = selectors
}

// Run schedules and executes all sessions. One session's fatal error is
// logged and collected without cancelling its siblings; Run itself only
// fails on scheduling problems.
func (f *Fleet) Run(ctx context.Context) error {
	targets := f.scheduleTargets()
	if len(targets) == 0 {
		f.logger.Info().Msg("No session targets to schedule")
		return nil
	}

	concurrency := f.cfg.Fleet.Concurrency
	f.logger.Info().
		Int("targets", len(targets)).
		Int("concurrency", concurrency).
		Msg("Starting session fleet")

	jobs := make(chan models.SessionTarget)
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerIndex int) {
			defer wg.Done()
			for target := range jobs {
				if ctx.Err() != nil {
					return
				}
				if err := f.runSession(ctx, target); err != nil {
					f.logger.Error().
						Err(err).
						Int("worker_index", workerIndex).
						Str("keyword", target.QueryTerm).
						Str("location", target.LocationTerm).
						Msg("Session failed")
					f.collectError(fmt.Errorf("session %q %q: %w", target.QueryTerm, target.LocationTerm, err))
				}
			}
		}(i)
	}

	// The send must not block once cancellation has drained the workers
dispatch:
	for _, target := range targets {
		select {
		case jobs <- target:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	count, err := f.store.Count()
	if err != nil {
		f.logger.Warn().Err(err).Msg("Could not read final record count")
	} else {
		f.logger.Info().
			Int("records", count).
			Int("failed_sessions", len(f.Errors())).
			Msg("Fleet run complete")
	}

	return nil
}

// scheduleTargets builds the cross product, skipping everything once the
// cap is already satisfied at schedule time. The check is best-effort and
// not repeated per pair after scheduling.
func (f *Fleet) scheduleTargets() []models.SessionTarget {
	var targets []models.SessionTarget
	for _, keyword := range f.cfg.Search.Keywords {
		for _, location := range f.cfg.Search.Locations {
			count, err := f.store.Count()
			if err != nil {
				f.logger.Warn().Err(err).Msg("Record count unavailable at schedule time, scheduling anyway")
			} else if count >= f.cfg.Search.MaxRecords {
				f.logger.Info().
					Str("keyword", keyword).
					Str("location", location).
					Msg("Record cap already satisfied, skipping target")
				continue
			}
			targets = append(targets, models.SessionTarget{QueryTerm: keyword, LocationTerm: location})
		}
	}
	return targets
}

// runSession owns the full lifecycle of one session: driver creation,
// navigation, and guaranteed driver release on every exit path. Panics are
// contained so a crashing session cannot take down its siblings.
func (f *Fleet) runSession(ctx context.Context, target models.SessionTarget) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			f.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(buf[:n])).
				Msg("Recovered from panic in session")
			err = fmt.Errorf("session panicked: %v", r)
		}
	}()

	sessionID := uuid.New().String()[:8]

	driver, err := f.newDriver(ctx)
	if err != nil {
		return fmt.Errorf("failed to create driver: %w", err)
	}
	defer func() {
		if closeErr := driver.Close(); closeErr != nil {
			f.logger.Warn().Err(closeErr).Str("session_id", sessionID).Msg("Driver close failed")
		}
	}()

	protocol := NewProtocol(f.advisor, f.store, f.limiter, f.selectors, f.cfg.Search.MaxRecords, f.logger)
	executor := NewExecutor(driver, f.store, f.selectors, f.cfg.Search.MaxRecords, sessionID, f.cfg.Fleet.DumpDir, f.logger)

	session := NewSession(SessionConfig{
		ID:            sessionID,
		Target:        target,
		Credentials:   f.cfg.Credentials,
		LoginURL:      f.cfg.Search.LoginURL,
		SearchURL:     f.cfg.Search.SearchURL,
		VerifyTimeout: f.cfg.Fleet.VerifyTimeoutDuration(),
		MaxRecords:    f.cfg.Search.MaxRecords,
		Selectors:     f.selectors,
	}, driver, f.store, protocol, executor, f.pacing, f.logger)

	return session.Run(ctx)
}

// collectError records a session failure for the run summary
func (f *Fleet) collectError(err error) {
	f.errorsMu.Lock()
	defer f.errorsMu.Unlock()
	f.errors = append(f.errors, err)
}

// Errors returns the fatal errors of failed sessions
func (f *Fleet) Errors() []error {
	f.errorsMu.Lock()
	defer f.errorsMu.Unlock()
	out := make([]error, len(f.errors))
	copy(out, f.errors)
	return out
}
