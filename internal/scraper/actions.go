package scraper

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/talentscout/internal/models"
)

// Executor performs the page-level actions a decision resolves to: the
// extraction pass over the current page and the advance to the next one.
type Executor struct {
	driver     Driver
	store      RecordStore
	selectors  Selectors
	maxRecords int
	sessionID  string
	dumpDir    string
	logger     arbor.ILogger

	// Tuning knobs with production defaults; overridden in tests
	waitTimeout  time.Duration
	clickTimeout time.Duration
	retryBackoff time.Duration
}

// NewExecutor creates a page action executor for one session
func NewExecutor(driver Driver, store RecordStore, selectors Selectors, maxRecords int, sessionID, dumpDir string, logger arbor.ILogger) *Executor {
	return &Executor{
		driver:       driver,
		store:        store,
		selectors:    selectors,
		maxRecords:   maxRecords,
		sessionID:    sessionID,
		dumpDir:      dumpDir,
		logger:       logger,
		waitTimeout:  60 * time.Second,
		clickTimeout: 10 * time.Second,
		retryBackoff: 5 * time.Second,
	}
}

// ExtractCurrentPage scrolls the page out, waits for candidate links and
// returns the novel records found, bounded by the remaining budget to the
// record cap. A wait timeout is recoverable: the page source is dumped for
// diagnosis and an empty batch is returned.
func (e *Executor) ExtractCurrentPage(ctx context.Context, mem *VisitMemory) ([]*models.Record, error) {
	if err := e.driver.ScrollToBottom(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Scroll to bottom failed")
	}

	if err := e.driver.WaitVisible(ctx, e.selectors.CandidateLink, e.waitTimeout); err != nil {
		e.logger.Error().Err(err).Msg("Timeout waiting for candidate links, dumping page source")
		e.dumpPageSource(ctx)
		return nil, nil
	}

	links, err := e.driver.Links(ctx, e.selectors.CandidateLink)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidate links: %w", err)
	}

	count, err := e.store.Count()
	if err != nil {
		return nil, fmt.Errorf("record count query failed: %w", err)
	}
	budget := e.maxRecords - count
	if budget <= 0 {
		return nil, nil
	}

	var records []*models.Record
	for _, link := range links {
		if len(records) >= budget {
			break
		}

		canonical, id, err := canonicalize(link.Href, e.selectors.LinkPathMarker)
		if err != nil {
			continue
		}
		if mem.Visited(canonical) {
			continue
		}
		name := strings.TrimSpace(link.Text)
		if name == "" {
			continue
		}
		if e.store.Exists(id) {
			mem.MarkVisited(canonical)
			continue
		}

		records = append(records, &models.Record{
			ID:          id,
			DisplayName: name,
			SourceURL:   canonical,
			CapturedAt:  time.Now().UTC(),
		})
		mem.MarkVisited(canonical)

		e.logger.Info().
			Str("session_id", e.sessionID).
			Str("name", name).
			Str("url", canonical).
			Msg("Extracted record")
	}

	return records, nil
}

// AdvancePage tries to activate the pagination control, retrying with a
// fixed backoff. Returns false once retries are exhausted; the caller
// treats that as a session-ending condition, not a fatal error.
func (e *Executor) AdvancePage(ctx context.Context, retries int) bool {
	for attempt := 1; attempt <= retries; attempt++ {
		err := e.driver.Click(ctx, e.selectors.NextControl, e.clickTimeout)
		if err == nil {
			return true
		}

		e.logger.Warn().
			Err(err).
			Str("session_id", e.sessionID).
			Int("attempt", attempt).
			Int("retries", retries).
			Msg("Advance control not interactable, retrying")

		if attempt == retries {
			break
		}

		timer := time.NewTimer(e.retryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}

	e.logger.Error().
		Str("session_id", e.sessionID).
		Int("retries", retries).
		Msg("Failed to advance page after retries")
	return false
}

// dumpPageSource writes the current markup to a diagnostic artifact
func (e *Executor) dumpPageSource(ctx context.Context) {
	source, err := e.driver.PageSource(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Could not read page source for dump")
		return
	}

	path := filepath.Join(e.dumpDir, fmt.Sprintf("page_source_%s.html", e.sessionID))
	if err := os.WriteFile(path, []byte(source), 0644); err != nil {
		e.logger.Warn().Err(err).Str("path", path).Msg("Could not write page source dump")
		return
	}
	e.logger.Info().Str("path", path).Msg("Page source dumped for diagnosis")
}

// canonicalize strips query parameters and fragment from a candidate href
// and derives the record id from the trailing path segment. Links without
// the expected path marker are rejected.
func canonicalize(href, marker string) (canonical, id string, err error) {
	u, err := url.Parse(href)
	if err != nil {
		return "", "", err
	}
	if !strings.Contains(u.Path, marker) {
		return "", "", fmt.Errorf("link path %q lacks marker %q", u.Path, marker)
	}

	u.RawQuery = ""
	u.Fragment = ""

	idx := strings.LastIndex(u.Path, marker)
	id = strings.Trim(u.Path[idx+len(marker):], "/")
	if id == "" {
		return "", "", fmt.Errorf("link %q has no trailing path segment", href)
	}

	return u.String(), id, nil
}
