package scraper

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

// ActionCode is the next step chosen for a session
type ActionCode string

const (
	ActionAdvance ActionCode = "advance"
	ActionExtract ActionCode = "extract"
	ActionStop    ActionCode = "stop"
)

// Decision is the outcome of one decision step, produced either by the
// advisory oracle or by the local override policy. Never persisted.
type Decision struct {
	Action        ActionCode
	Justification string
}

// FallbackDecision is substituted when the oracle fails or returns
// malformed output. Extraction is the safer default: it never silently
// stops a session and never spins retrying the oracle.
func FallbackDecision() Decision {
	return Decision{Action: ActionExtract, Justification: "fallback due to oracle error"}
}

// Protocol builds a state summary, queries the advisory oracle and applies
// the deterministic override policy to its answer.
type Protocol struct {
	advisor    Advisor
	store      RecordStore
	limiter    *rate.Limiter
	selectors  Selectors
	maxRecords int
	logger     arbor.ILogger
}

// NewProtocol creates a decision protocol. The limiter throttles oracle
// calls across all sessions and may be nil.
func NewProtocol(advisor Advisor, store RecordStore, limiter *rate.Limiter, selectors Selectors, maxRecords int, logger arbor.ILogger) *Protocol {
	return &Protocol{
		advisor:    advisor,
		store:      store,
		limiter:    limiter,
		selectors:  selectors,
		maxRecords: maxRecords,
		logger:     logger,
	}
}

// Next produces the decision for the current navigation step. The returned
// error is reserved for store failures; oracle failures are absorbed into
// the fallback decision.
func (p *Protocol) Next(ctx context.Context, drv Driver, pageSource string, mem *VisitMemory) (Decision, error) {
	count, err := p.store.Count()
	if err != nil {
		return Decision{}, fmt.Errorf("record count query failed: %w", err)
	}

	candidates := p.countCandidates(pageSource)

	advanceEnabled, err := drv.ControlEnabled(ctx, p.selectors.NextControl)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Advance control probe failed, assuming disabled")
		advanceEnabled = false
	}

	prompt := p.buildPrompt(count, candidates, advanceEnabled, mem.RepeatCount())
	decision := p.query(ctx, prompt)

	return p.applyOverride(decision, count, candidates, advanceEnabled), nil
}

// buildPrompt renders the compact state summary sent to the oracle
func (p *Protocol) buildPrompt(count, candidates int, advanceEnabled bool, repeats int) string {
	summary := fmt.Sprintf("Records: %d/%d, Candidates: %d, Next: %t", count, p.maxRecords, candidates, advanceEnabled)
	return fmt.Sprintf(`Current state: %s
Previous action repeated: %d times

Options:
1. Advance to the next page
2. Extract the current page
3. Stop collecting

Respond in this format:
Action: <number>
Reasoning: <text>`, summary, repeats)
}

// query sends the prompt to the oracle and parses the answer. Transport
// errors and malformed output both degrade to the fallback decision.
func (p *Protocol) query(ctx context.Context, prompt string) Decision {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			p.logger.Warn().Err(err).Msg("Oracle rate limit wait interrupted")
			return FallbackDecision()
		}
	}

	raw, err := p.advisor.Decide(ctx, prompt)
	if err != nil {
		p.logger.Error().Err(err).Msg("Oracle query failed, using fallback decision")
		return FallbackDecision()
	}

	decision, err := parseDecision(raw)
	if err != nil {
		p.logger.Error().Err(err).Str("response", truncate(raw, 200)).Msg("Oracle response malformed, using fallback decision")
		return FallbackDecision()
	}

	return decision
}

// applyOverride supersedes a premature STOP while forward progress is still
// structurally possible: under the cap with either the advance control
// enabled or candidates visible, the session keeps going.
func (p *Protocol) applyOverride(decision Decision, count, candidates int, advanceEnabled bool) Decision {
	if decision.Action != ActionStop {
		return decision
	}
	if count >= p.maxRecords {
		return decision
	}
	if !advanceEnabled && candidates == 0 {
		return decision
	}

	action := ActionExtract
	if advanceEnabled {
		action = ActionAdvance
	}

	overridden := Decision{
		Action:        action,
		Justification: fmt.Sprintf("override: %d of %d records collected, continuing while progress is possible", count, p.maxRecords),
	}

	p.logger.Info().
		Str("oracle_action", string(ActionStop)).
		Str("effective_action", string(action)).
		Int("records", count).
		Msg("Overriding oracle stop decision")

	return overridden
}

// countCandidates counts candidate entry links in the rendered markup
func (p *Protocol) countCandidates(pageSource string) int {
	if pageSource == "" {
		return 0
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageSource))
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to parse page source for candidate count")
		return 0
	}
	return doc.Find(p.selectors.CandidateLink).Length()
}

// parseDecision extracts the action and justification from the oracle's
// line protocol. Both the "Action:" and "Reasoning:" markers are required.
func parseDecision(raw string) (Decision, error) {
	actionValue, ok := markerValue(raw, "Action:")
	if !ok {
		return Decision{}, fmt.Errorf("response missing \"Action:\" marker")
	}
	reasoning, ok := markerValue(raw, "Reasoning:")
	if !ok {
		return Decision{}, fmt.Errorf("response missing \"Reasoning:\" marker")
	}

	var action ActionCode
	switch strings.TrimSpace(strings.TrimSuffix(actionValue, ".")) {
	case "1":
		action = ActionAdvance
	case "2":
		action = ActionExtract
	case "3":
		action = ActionStop
	default:
		return Decision{}, fmt.Errorf("unrecognized action %q", actionValue)
	}

	return Decision{Action: action, Justification: reasoning}, nil
}

// markerValue returns the text following the first occurrence of marker.
// For "Action:" callers want just the remainder of that line; for
// "Reasoning:" the rest of the response is the justification.
func markerValue(raw, marker string) (string, bool) {
	idx := strings.Index(raw, marker)
	if idx < 0 {
		return "", false
	}
	rest := raw[idx+len(marker):]
	if marker == "Action:" {
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[:nl]
		}
	}
	return strings.TrimSpace(rest), true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
