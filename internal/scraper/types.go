package scraper

import (
	"context"
	"time"

	"github.com/ternarybob/talentscout/internal/browser"
	"github.com/ternarybob/talentscout/internal/models"
)

// Driver is the interactive browser session boundary. Implementations may
// block on every call and may fail when the target page has not yet loaded
// the expected structure.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	Clear(ctx context.Context, selector string) error
	SendKeys(ctx context.Context, selector, text string) error
	TypeText(ctx context.Context, selector, text string) error
	Submit(ctx context.Context, selector string) error
	ScrollToBottom(ctx context.Context) error
	ControlEnabled(ctx context.Context, selector string) (bool, error)
	Links(ctx context.Context, selector string) ([]browser.Link, error)
	CurrentURL(ctx context.Context) (string, error)
	PageSource(ctx context.Context) (string, error)
	Close() error
}

// DriverFactory creates an independently authenticated driver for a session
type DriverFactory func(ctx context.Context) (Driver, error)

// RecordStore is the dedup store boundary. The store's uniqueness
// constraint on record id is the authoritative dedup gate.
type RecordStore interface {
	Exists(id string) bool
	Count() (int, error)
	InsertIfAbsent(records []*models.Record) (int, error)
}

// Advisor is the advisory oracle boundary. The returned text is parsed by
// the decision protocol; malformed output triggers the fallback decision.
type Advisor interface {
	Decide(ctx context.Context, prompt string) (string, error)
}

// Selectors identifies the page structure of the target search interface
type Selectors struct {
	LoginUser      string // Username input on the login page
	LoginPassword  string // Password input on the login page
	LoginSubmit    string // Login form submit control
	AuthChrome     string // Element only present once authenticated
	SearchBox      string // Global search input
	CandidateLink  string // Anchor elements of listing entries
	LinkPathMarker string // Path fragment a candidate link must contain
	NextControl    string // Pagination advance control
}

// DefaultSelectors returns the selector set for the LinkedIn people search
// interface
func DefaultSelectors() Selectors {
	return Selectors{
		LoginUser:      "#username",
		LoginPassword:  "#password",
		LoginSubmit:    "button[type='submit']",
		AuthChrome:     "#global-nav",
		SearchBox:      "input[placeholder='Search']",
		CandidateLink:  "a[href*='/in/']",
		LinkPathMarker: "/in/",
		NextControl:    "button[aria-label='Next']",
	}
}
