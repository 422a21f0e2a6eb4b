package scraper

import (
	"crypto/md5"
	"encoding/hex"
)

// repeatThreshold is how many consecutive qualifying repeats of the same
// action against an already-seen page are tolerated before the session is
// considered stuck.
const repeatThreshold = 5

// VisitMemory is per-session loop-detection state. It records which URLs
// were visited and which page fingerprints were seen, and counts
// consecutive repeats of the same action against an unchanged page.
// Created fresh at session start and discarded when the session ends.
type VisitMemory struct {
	visitedURLs  map[string]struct{}
	fingerprints map[string]struct{}
	lastAction   ActionCode
	hasLast      bool
	repeatCount  int
}

// NewVisitMemory creates empty visit memory
func NewVisitMemory() *VisitMemory {
	return &VisitMemory{
		visitedURLs:  make(map[string]struct{}),
		fingerprints: make(map[string]struct{}),
	}
}

// Update records that url was visited under the page identified by
// fingerprint, taking action. The repeat count increments only when the
// action matches the previous step's action and the fingerprint was already
// seen; any other combination resets it to 1.
func (m *VisitMemory) Update(url string, action ActionCode, fingerprint string) {
	m.visitedURLs[url] = struct{}{}

	_, seen := m.fingerprints[fingerprint]
	if m.hasLast && m.lastAction == action && seen {
		m.repeatCount++
	} else {
		m.repeatCount = 1
	}

	m.lastAction = action
	m.hasLast = true
	m.fingerprints[fingerprint] = struct{}{}
}

// ShouldStop reports whether the session looks stuck in a loop
func (m *VisitMemory) ShouldStop() bool {
	return m.repeatCount > repeatThreshold
}

// RepeatCount returns how many times the previous action has repeated
func (m *VisitMemory) RepeatCount() int {
	return m.repeatCount
}

// Visited reports whether the canonical URL was already handled this session
func (m *VisitMemory) Visited(url string) bool {
	_, ok := m.visitedURLs[url]
	return ok
}

// MarkVisited records a canonical URL without affecting repeat counting
func (m *VisitMemory) MarkVisited(url string) {
	m.visitedURLs[url] = struct{}{}
}

// PageFingerprint hashes rendered page markup for loop detection. The
// digest is only ever compared for equality.
func PageFingerprint(source string) string {
	sum := md5.Sum([]byte(source))
	return hex.EncodeToString(sum[:])
}
