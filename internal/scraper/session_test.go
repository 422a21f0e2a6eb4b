package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/talentscout/internal/browser"
	"github.com/ternarybob/talentscout/internal/common"
	"github.com/ternarybob/talentscout/internal/export"
	"github.com/ternarybob/talentscout/internal/models"
	badgerstore "github.com/ternarybob/talentscout/internal/storage/badger"
)

// pagedDriver simulates a paginated listing: clicking the advance control
// moves to the next page of links.
type pagedDriver struct {
	*stubDriver
	mu    sync.Mutex
	pages [][]browser.Link
	index int
}

func newPagedDriver(pages [][]browser.Link) *pagedDriver {
	d := &pagedDriver{stubDriver: &stubDriver{}, pages: pages}
	d.stubDriver.linksFn = func(string) ([]browser.Link, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.pages[d.index], nil
	}
	next := DefaultSelectors().NextControl
	d.stubDriver.clickFn = func(selector string, _ time.Duration) error {
		if selector != next {
			return nil
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.index < len(d.pages)-1 {
			d.index++
		}
		return nil
	}
	d.stubDriver.currentURLFn = func() (string, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		return fmt.Sprintf("https://example.com/search?page=%d", d.index+1), nil
	}
	d.stubDriver.pageSourceFn = func() (string, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		return fmt.Sprintf("<html>results page %d</html>", d.index+1), nil
	}
	return d
}

func newTestSession(t *testing.T, driver Driver, store RecordStore, advisor Advisor, maxRecords int) *Session {
	t.Helper()
	logger := common.GetLogger()
	selectors := DefaultSelectors()

	protocol := NewProtocol(advisor, store, nil, selectors, maxRecords, logger)
	executor := NewExecutor(driver, store, selectors, maxRecords, "test", t.TempDir(), logger)
	executor.retryBackoff = time.Millisecond

	return NewSession(SessionConfig{
		ID:            "test",
		Target:        models.SessionTarget{QueryTerm: "Data Scientist", LocationTerm: "New Delhi"},
		Credentials:   common.CredentialsConfig{Email: "user@example.com", Password: "secret"},
		LoginURL:      "https://example.com/login",
		SearchURL:     "https://example.com/search",
		VerifyTimeout: time.Second,
		MaxRecords:    maxRecords,
		Selectors:     selectors,
	}, driver, store, protocol, executor, browser.NoPacing{}, logger)
}

func TestSession_CollectsToCap(t *testing.T) {
	driver := newPagedDriver([][]browser.Link{
		{
			{Href: "https://example.com/in/alice", Text: "Alice"},
			{Href: "https://example.com/in/bob", Text: "Bob"},
			{Href: "https://example.com/in/carol", Text: "Carol"},
		},
		{
			{Href: "https://example.com/in/dave", Text: "Dave"},
			{Href: "https://example.com/in/erin", Text: "Erin"},
			{Href: "https://example.com/in/frank", Text: "Frank"},
		},
	})
	store := newStubStore()
	advisor := &stubAdvisor{responses: []string{
		"Action: 2\nReasoning: candidates visible",
		"Action: 1\nReasoning: page exhausted",
		"Action: 2\nReasoning: fresh candidates",
	}}

	session := newTestSession(t, driver, store, advisor, 5)
	if err := session.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	count, _ := store.Count()
	if count != 5 {
		t.Errorf("Expected exactly 5 records at the cap, got %d", count)
	}

	// The second page had 3 candidates but only 2 budget slots remained
	if store.Exists("frank") {
		t.Error("Record beyond the cap should not have been stored")
	}
	for _, id := range []string{"alice", "bob", "carol", "dave", "erin"} {
		if !store.Exists(id) {
			t.Errorf("Expected record %q to be stored", id)
		}
	}

	// The typed query is the keyword/location pair
	found := false
	for _, text := range driver.typed {
		if text == "Data Scientist New Delhi" {
			found = true
		}
	}
	if !found {
		t.Errorf("Search query never typed, got inputs: %v", driver.typed)
	}
}

func TestSession_StopsOnRepeatLoop(t *testing.T) {
	// The advance control "works" but the page never changes
	driver := &stubDriver{
		currentURLFn: func() (string, error) { return "https://example.com/search?page=1", nil },
		pageSourceFn: func() (string, error) { return "<html>stuck page</html>", nil },
	}
	store := newStubStore()
	advisor := &stubAdvisor{responses: []string{"Action: 1\nReasoning: keep paging"}}

	session := newTestSession(t, driver, store, advisor, 100)

	done := make(chan error, 1)
	go func() { done <- session.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Expected clean stop on loop detection, got: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Session did not detect the loop")
	}

	if advisor.calls != repeatThreshold+1 {
		t.Errorf("Expected %d decision steps before the loop tripped, got %d", repeatThreshold+1, advisor.calls)
	}
	if count, _ := store.Count(); count != 0 {
		t.Errorf("Expected no records from a stuck session, got %d", count)
	}
}

func TestSession_AdvanceFailureEndsRunCleanly(t *testing.T) {
	nextControl := DefaultSelectors().NextControl
	clicks := 0
	driver := &stubDriver{
		clickFn: func(selector string, _ time.Duration) error {
			if selector != nextControl {
				return nil
			}
			clicks++
			return errors.New("element not interactable")
		},
		pageSourceFn: func() (string, error) { return "<html>last page</html>", nil },
	}
	store := newStubStore()
	advisor := &stubAdvisor{responses: []string{"Action: 1\nReasoning: try the next page"}}

	session := newTestSession(t, driver, store, advisor, 100)
	if err := session.Run(context.Background()); err != nil {
		t.Fatalf("Expected clean termination on advance failure, got: %v", err)
	}
	if clicks != advanceRetries {
		t.Errorf("Expected %d click attempts, got %d", advanceRetries, clicks)
	}
	if advisor.calls != 1 {
		t.Errorf("Expected a single decision step, got %d", advisor.calls)
	}
}

func TestSession_StopDecisionEndsRun(t *testing.T) {
	driver := newPagedDriver([][]browser.Link{{}})
	store := newStubStore()
	advisor := &stubAdvisor{responses: []string{"Action: 3\nReasoning: nothing here"}}

	session := newTestSession(t, driver, store, advisor, 100)
	if err := session.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if advisor.calls != 1 {
		t.Errorf("Expected a single decision step, got %d", advisor.calls)
	}
}

func TestSession_ScrollsBeforeDecision(t *testing.T) {
	driver := newPagedDriver([][]browser.Link{{}})
	store := newStubStore()
	advisor := &stubAdvisor{responses: []string{"Action: 3\nReasoning: nothing here"}}

	session := newTestSession(t, driver, store, advisor, 100)
	if err := session.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// One decision step, no extraction: the scroll must have come from the
	// navigation loop so lazily loaded candidates are counted
	if driver.stubDriver.scrolls != 1 {
		t.Errorf("Expected 1 scroll before the decision, got %d", driver.stubDriver.scrolls)
	}
}

func TestSession_PersistFailureIsFatal(t *testing.T) {
	driver := newPagedDriver([][]browser.Link{{
		{Href: "https://example.com/in/alice", Text: "Alice"},
	}})
	store := &failingStore{stubStore: newStubStore()}
	advisor := &stubAdvisor{responses: []string{"Action: 2\nReasoning: extract"}}

	session := newTestSession(t, driver, store, advisor, 100)
	err := session.Run(context.Background())
	if err == nil {
		t.Fatal("Expected fatal error when persistence fails")
	}
	if !strings.Contains(err.Error(), "persist") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestSession_LoginFallsBackToLandingURL(t *testing.T) {
	authChrome := DefaultSelectors().AuthChrome
	driver := newPagedDriver([][]browser.Link{{}})
	driver.stubDriver.waitVisibleFn = func(selector string, _ time.Duration) error {
		if selector == authChrome {
			return errors.New("context deadline exceeded")
		}
		return nil
	}
	driver.stubDriver.currentURLFn = func() (string, error) {
		return "https://example.com/feed/", nil
	}

	store := newStubStore()
	advisor := &stubAdvisor{responses: []string{"Action: 3\nReasoning: done"}}

	session := newTestSession(t, driver, store, advisor, 100)
	if err := session.Run(context.Background()); err != nil {
		t.Fatalf("Expected landing-URL fallback to verify login, got: %v", err)
	}
}

func TestSession_LoginVerificationFailureIsFatal(t *testing.T) {
	authChrome := DefaultSelectors().AuthChrome
	driver := newPagedDriver([][]browser.Link{{}})
	driver.stubDriver.waitVisibleFn = func(selector string, _ time.Duration) error {
		if selector == authChrome {
			return errors.New("context deadline exceeded")
		}
		return nil
	}
	driver.stubDriver.currentURLFn = func() (string, error) {
		return "https://example.com/checkpoint/challenge", nil
	}

	session := newTestSession(t, driver, newStubStore(), &stubAdvisor{}, 100)
	err := session.Run(context.Background())
	if err == nil {
		t.Fatal("Expected login failure when verification never completes")
	}
	if !strings.Contains(err.Error(), "login failed") {
		t.Errorf("Unexpected error: %v", err)
	}
}

// The full persistence path: real Badger store, checkpoint rewritten after
// every insert batch.
func TestSession_EndToEndCheckpoint(t *testing.T) {
	dir := t.TempDir()
	snapshotPath := filepath.Join(dir, "profiles.json")
	logger := common.GetLogger()

	manager, err := badgerstore.NewManager(logger, &common.BadgerConfig{
		Path: filepath.Join(dir, "db"),
	}, export.NewSnapshot(snapshotPath, logger))
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	defer manager.Close()

	driver := newPagedDriver([][]browser.Link{
		{
			{Href: "https://example.com/in/alice", Text: "Alice"},
			{Href: "https://example.com/in/bob", Text: "Bob"},
			{Href: "https://example.com/in/carol", Text: "Carol"},
		},
		{
			{Href: "https://example.com/in/dave", Text: "Dave"},
			{Href: "https://example.com/in/erin", Text: "Erin"},
			{Href: "https://example.com/in/frank", Text: "Frank"},
		},
	})
	advisor := &stubAdvisor{responses: []string{
		"Action: 2\nReasoning: candidates visible",
		"Action: 1\nReasoning: page exhausted",
		"Action: 2\nReasoning: fresh candidates",
	}}

	session := newTestSession(t, driver, manager.Records(), advisor, 5)
	if err := session.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	count, err := manager.Records().Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 5 {
		t.Errorf("Expected 5 stored records, got %d", count)
	}

	data, err := os.ReadFile(snapshotPath)
	if err != nil {
		t.Fatalf("Expected checkpoint file: %v", err)
	}
	var entries []models.SnapshotEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("Checkpoint is not valid JSON: %v", err)
	}
	if len(entries) != 5 {
		t.Errorf("Expected 5 checkpoint entries, got %d", len(entries))
	}

	urls := map[string]bool{}
	for _, e := range entries {
		if urls[e.SourceURL] {
			t.Errorf("Duplicate source URL in checkpoint: %s", e.SourceURL)
		}
		urls[e.SourceURL] = true
	}
}

// failingStore accepts reads but rejects inserts
type failingStore struct {
	*stubStore
}

func (s *failingStore) InsertIfAbsent(records []*models.Record) (int, error) {
	return 0, errors.New("disk full")
}
