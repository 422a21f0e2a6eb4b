package scraper

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/talentscout/internal/browser"
	"github.com/ternarybob/talentscout/internal/models"
)

// stubDriver implements Driver with overridable behavior per method. Nil
// hooks succeed with zero values.
type stubDriver struct {
	mu sync.Mutex

	navigateFn       func(url string) error
	waitVisibleFn    func(selector string, timeout time.Duration) error
	clickFn          func(selector string, timeout time.Duration) error
	linksFn          func(selector string) ([]browser.Link, error)
	controlEnabledFn func(selector string) (bool, error)
	currentURLFn     func() (string, error)
	pageSourceFn     func() (string, error)

	typed    []string
	navigate []string
	scrolls  int
	closed   bool
}

func (d *stubDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	d.navigate = append(d.navigate, url)
	d.mu.Unlock()
	if d.navigateFn != nil {
		return d.navigateFn(url)
	}
	return nil
}

func (d *stubDriver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if d.waitVisibleFn != nil {
		return d.waitVisibleFn(selector, timeout)
	}
	return nil
}

func (d *stubDriver) Click(ctx context.Context, selector string, timeout time.Duration) error {
	if d.clickFn != nil {
		return d.clickFn(selector, timeout)
	}
	return nil
}

func (d *stubDriver) Clear(ctx context.Context, selector string) error { return nil }

func (d *stubDriver) SendKeys(ctx context.Context, selector, text string) error {
	d.mu.Lock()
	d.typed = append(d.typed, text)
	d.mu.Unlock()
	return nil
}

func (d *stubDriver) TypeText(ctx context.Context, selector, text string) error {
	return d.SendKeys(ctx, selector, text)
}

func (d *stubDriver) Submit(ctx context.Context, selector string) error { return nil }

func (d *stubDriver) ScrollToBottom(ctx context.Context) error {
	d.mu.Lock()
	d.scrolls++
	d.mu.Unlock()
	return nil
}

func (d *stubDriver) ControlEnabled(ctx context.Context, selector string) (bool, error) {
	if d.controlEnabledFn != nil {
		return d.controlEnabledFn(selector)
	}
	return false, nil
}

func (d *stubDriver) Links(ctx context.Context, selector string) ([]browser.Link, error) {
	if d.linksFn != nil {
		return d.linksFn(selector)
	}
	return nil, nil
}

func (d *stubDriver) CurrentURL(ctx context.Context) (string, error) {
	if d.currentURLFn != nil {
		return d.currentURLFn()
	}
	return "https://example.com/", nil
}

func (d *stubDriver) PageSource(ctx context.Context) (string, error) {
	if d.pageSourceFn != nil {
		return d.pageSourceFn()
	}
	return "<html></html>", nil
}

func (d *stubDriver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// stubStore is an in-memory RecordStore safe for concurrent use
type stubStore struct {
	mu      sync.Mutex
	records map[string]*models.Record
	countFn func() (int, error)
}

func newStubStore() *stubStore {
	return &stubStore{records: make(map[string]*models.Record)}
}

func (s *stubStore) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	return ok
}

func (s *stubStore) Count() (int, error) {
	if s.countFn != nil {
		return s.countFn()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), nil
}

func (s *stubStore) InsertIfAbsent(records []*models.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, rec := range records {
		if _, ok := s.records[rec.ID]; ok {
			continue
		}
		s.records[rec.ID] = rec
		inserted++
	}
	return inserted, nil
}

// stubAdvisor replays scripted responses; the last response repeats once the
// script is exhausted
type stubAdvisor struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (a *stubAdvisor) Decide(ctx context.Context, prompt string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	if len(a.responses) == 0 {
		return "", nil
	}
	resp := a.responses[0]
	if len(a.responses) > 1 {
		a.responses = a.responses[1:]
	}
	return resp, nil
}
