package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/talentscout/internal/browser"
	"github.com/ternarybob/talentscout/internal/common"
	"github.com/ternarybob/talentscout/internal/models"
)

// advanceRetries is how many times a session retries the pagination control
// before giving up on the current target.
const advanceRetries = 3

// SessionConfig is the immutable setup of one navigation session
type SessionConfig struct {
	ID            string
	Target        models.SessionTarget
	Credentials   common.CredentialsConfig
	LoginURL      string
	SearchURL     string
	VerifyTimeout time.Duration
	MaxRecords    int
	Selectors     Selectors
}

// Session drives one independently authenticated navigation run against one
// query/location pair. All driver interactions are strictly sequential.
type Session struct {
	cfg      SessionConfig
	driver   Driver
	store    RecordStore
	protocol *Protocol
	executor *Executor
	memory   *VisitMemory
	pacing   browser.Pacing
	logger   arbor.ILogger
}

// NewSession creates a session with fresh visit memory
func NewSession(cfg SessionConfig, driver Driver, store RecordStore, protocol *Protocol, executor *Executor, pacing browser.Pacing, logger arbor.ILogger) *Session {
	if pacing == nil {
		pacing = browser.NoPacing{}
	}
	return &Session{
		cfg:      cfg,
		driver:   driver,
		store:    store,
		protocol: protocol,
		executor: executor,
		memory:   NewVisitMemory(),
		pacing:   pacing,
		logger:   logger,
	}
}

// Memory exposes the session's visit memory
func (s *Session) Memory() *VisitMemory {
	return s.memory
}

// Run executes the session to a terminal condition: cap reached, stop
// decision, loop detected, advance failure, or a fatal error.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info().
		Str("session_id", s.cfg.ID).
		Str("keyword", s.cfg.Target.QueryTerm).
		Str("location", s.cfg.Target.LocationTerm).
		Msg("Session starting")

	if err := s.login(ctx); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if err := s.beginSearch(ctx); err != nil {
		return fmt.Errorf("search entry failed: %w", err)
	}

	return s.navigate(ctx)
}

// login authenticates the driver against the target service. The
// post-login wait doubles as the verification window: if the expected
// authenticated chrome never appears within VerifyTimeout, the landing URL
// is checked once before failing the session.
func (s *Session) login(ctx context.Context) error {
	if err := s.driver.Navigate(ctx, s.cfg.LoginURL); err != nil {
		return err
	}

	if err := s.driver.WaitVisible(ctx, s.cfg.Selectors.LoginUser, 30*time.Second); err != nil {
		return fmt.Errorf("login form did not appear: %w", err)
	}

	if err := s.driver.SendKeys(ctx, s.cfg.Selectors.LoginUser, s.cfg.Credentials.Email); err != nil {
		return fmt.Errorf("failed to enter username: %w", err)
	}
	s.logger.Debug().Str("session_id", s.cfg.ID).Msg("Entered username")

	if err := s.driver.SendKeys(ctx, s.cfg.Selectors.LoginPassword, s.cfg.Credentials.Password); err != nil {
		return fmt.Errorf("failed to enter password: %w", err)
	}

	if err := s.driver.Click(ctx, s.cfg.Selectors.LoginSubmit, 10*time.Second); err != nil {
		return fmt.Errorf("failed to submit login form: %w", err)
	}

	if err := s.driver.WaitVisible(ctx, s.cfg.Selectors.AuthChrome, s.cfg.VerifyTimeout); err != nil {
		// The site may have dropped us on the feed without the expected
		// chrome, or it may be demanding interactive verification.
		current, urlErr := s.driver.CurrentURL(ctx)
		if urlErr == nil && (strings.Contains(current, "feed") || strings.Contains(current, "home")) {
			s.logger.Info().Str("session_id", s.cfg.ID).Msg("Login verified via landing URL")
		} else {
			return fmt.Errorf("authentication not verified within %s: %w", s.cfg.VerifyTimeout, err)
		}
	}

	s.logger.Info().Str("session_id", s.cfg.ID).Msg("Login successful")
	return s.pacing.Think(ctx)
}

// beginSearch opens the search surface and types the query with humanized
// keystroke pacing
func (s *Session) beginSearch(ctx context.Context) error {
	if err := s.driver.Navigate(ctx, s.cfg.SearchURL); err != nil {
		return err
	}
	if err := s.pacing.Think(ctx); err != nil {
		return err
	}

	if err := s.driver.WaitVisible(ctx, s.cfg.Selectors.SearchBox, 120*time.Second); err != nil {
		return fmt.Errorf("search box did not appear: %w", err)
	}
	if err := s.driver.Clear(ctx, s.cfg.Selectors.SearchBox); err != nil {
		return fmt.Errorf("failed to clear search box: %w", err)
	}

	query := s.cfg.Target.String()
	if err := s.driver.TypeText(ctx, s.cfg.Selectors.SearchBox, query); err != nil {
		return fmt.Errorf("failed to type search query: %w", err)
	}
	if err := s.driver.Submit(ctx, s.cfg.Selectors.SearchBox); err != nil {
		return fmt.Errorf("failed to submit search query: %w", err)
	}

	s.logger.Info().
		Str("session_id", s.cfg.ID).
		Str("query", query).
		Msg("Search submitted")

	return s.pacing.Think(ctx)
}

// navigate loops the per-step state machine: decide, act, update memory,
// persist. Records are persisted immediately per page, never batched across
// pages, so an interrupted session keeps everything extracted so far.
func (s *Session) navigate(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		count, err := s.store.Count()
		if err != nil {
			return fmt.Errorf("record count query failed: %w", err)
		}
		if count >= s.cfg.MaxRecords {
			s.logger.Info().
				Str("session_id", s.cfg.ID).
				Int("records", count).
				Msg("Record cap reached, session complete")
			return nil
		}

		if s.memory.ShouldStop() {
			s.logger.Error().
				Str("session_id", s.cfg.ID).
				Int("repeat_count", s.memory.RepeatCount()).
				Msg("Stopping session due to potential infinite loop")
			return nil
		}

		// Lazily loaded results must be rendered before the page is
		// summarized, or the candidate count undercounts
		if err := s.driver.ScrollToBottom(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Scroll to bottom failed")
		}

		source, err := s.driver.PageSource(ctx)
		if err != nil {
			return fmt.Errorf("failed to read page source: %w", err)
		}

		decision, err := s.protocol.Next(ctx, s.driver, source, s.memory)
		if err != nil {
			return err
		}

		currentURL, err := s.driver.CurrentURL(ctx)
		if err != nil {
			return fmt.Errorf("failed to read current URL: %w", err)
		}

		s.logger.Info().
			Str("session_id", s.cfg.ID).
			Str("action", string(decision.Action)).
			Str("reasoning", decision.Justification).
			Msg("Decision")

		s.memory.Update(currentURL, decision.Action, PageFingerprint(source))

		switch decision.Action {
		case ActionAdvance:
			if !s.executor.AdvancePage(ctx, advanceRetries) {
				s.logger.Warn().Str("session_id", s.cfg.ID).Msg("Could not advance, session complete")
				return nil
			}
			if err := s.pacing.Think(ctx); err != nil {
				return err
			}

		case ActionExtract:
			records, err := s.executor.ExtractCurrentPage(ctx, s.memory)
			if err != nil {
				return err
			}
			if len(records) > 0 {
				if _, err := s.store.InsertIfAbsent(records); err != nil {
					return fmt.Errorf("failed to persist batch: %w", err)
				}
			}
			if err := s.pacing.Think(ctx); err != nil {
				return err
			}

		case ActionStop:
			s.logger.Info().
				Str("session_id", s.cfg.ID).
				Str("reasoning", decision.Justification).
				Msg("Stop decision, session complete")
			return nil

		default:
			return fmt.Errorf("unknown action code %q", decision.Action)
		}
	}
}
