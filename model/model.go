package model

import (
	"fmt"
	"time"
)

const (
	// MaxParticipants is the hard ceiling on ticket entries per round.
	MaxParticipants = 50
	// MaxWinners is the hard ceiling on winner slots per round.
	MaxWinners = 10
)

// Currency bounds for the ticket price, in minimum units (1 unit = 1e6).
const (
	MinTicketPrice = 100_000     // 0.1 units
	MaxTicketPrice = 100_000_000 // 100 units
)

// Bounds for the administrative parameters.
const (
	MaxMinPlayers = 20
	MinMinBlocks  = 50
	MaxMinBlocks  = 1000
)

// Identity names an account that can buy tickets, win prizes, or own the
// site.  It's opaque to us; the ledger knows what it means.
type Identity string

// Status is the lifecycle state of a round.  Completed and Cancelled are
// terminal; a round never re-enters Active.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Winner is one filled slot of a draw: who won, and how much.
type Winner struct {
	Identity Identity `json:"identity"`
	Prize    uint64   `json:"prize"`
}

// Round is one complete lottery cycle.  Participants and Tickets are
// parallel: one entry per purchase, so the same identity appears once per
// ticket it holds.  TicketCounts is the per-identity rollup of the same
// information, kept for lookups that don't want to walk the sequence.
type Round struct {
	RoundID        int64 `json:"-"`
	OptimisticLock int64 `json:"-"`

	Participants []Identity       `json:"participants"`
	Tickets      []int            `json:"tickets"`
	TicketCounts map[Identity]int `json:"ticketCounts"`

	TotalPot   uint64 `json:"totalPot"`
	StartBlock uint64 `json:"startBlock"`
	EndBlock   uint64 `json:"endBlock"`

	// MinPlayers is captured from config at initialization; the draw
	// threshold doesn't move under an active round.  (TicketPrice and
	// WinnerCount deliberately are not captured: those are read live.)
	MinPlayers int `json:"minPlayers"`

	Winners []Winner `json:"winners,omitempty"`
	Status  Status   `json:"status"`

	// RandomSeed is set at creation and overwritten when the draw runs.
	RandomSeed uint64 `json:"randomSeed"`
}

// Clone deep-copies the round so callers can stage mutations and throw them
// away if any precondition or external call fails.
func (r *Round) Clone() *Round {
	clone := *r
	clone.Participants = make([]Identity, len(r.Participants))
	copy(clone.Participants, r.Participants)
	clone.Tickets = make([]int, len(r.Tickets))
	copy(clone.Tickets, r.Tickets)
	clone.TicketCounts = make(map[Identity]int, len(r.TicketCounts))
	for id, n := range r.TicketCounts {
		clone.TicketCounts[id] = n
	}
	clone.Winners = make([]Winner, len(r.Winners))
	copy(clone.Winners, r.Winners)
	return &clone
}

// WindowContains reports whether ticket sales are open at the given block
// height.  The window is inclusive on both ends.
func (r *Round) WindowContains(height uint64) bool {
	return height >= r.StartBlock && height <= r.EndBlock
}

// AddTicket appends one purchase for id.  The caller has already checked
// capacity; this keeps the three views of the ticket list in step.
func (r *Round) AddTicket(id Identity) {
	r.Participants = append(r.Participants, id)
	r.Tickets = append(r.Tickets, len(r.Tickets))
	if r.TicketCounts == nil {
		r.TicketCounts = make(map[Identity]int)
	}
	r.TicketCounts[id]++
}

// CheckInvariants returns an error naming the first violated structural
// invariant, or nil.  Storage calls this before persisting.
func (r *Round) CheckInvariants() error {
	if len(r.Participants) != len(r.Tickets) {
		return fmt.Errorf("round %d: %d participants but %d tickets",
			r.RoundID, len(r.Participants), len(r.Tickets))
	}
	if len(r.Participants) > MaxParticipants {
		return fmt.Errorf("round %d: %d participants exceeds cap %d",
			r.RoundID, len(r.Participants), MaxParticipants)
	}
	if len(r.Winners) > MaxWinners {
		return fmt.Errorf("round %d: %d winners exceeds cap %d",
			r.RoundID, len(r.Winners), MaxWinners)
	}
	if len(r.Winners) > 0 {
		var sum uint64
		for _, w := range r.Winners {
			sum += w.Prize
		}
		if sum != r.TotalPot {
			return fmt.Errorf("round %d: prizes sum to %d, pot is %d",
				r.RoundID, sum, r.TotalPot)
		}
	}
	return nil
}

// Config is the process-wide administrative configuration.  Owner is set
// once at bootstrap and never reassigned here.
type Config struct {
	TicketPrice uint64   `json:"ticketPrice"`
	MinPlayers  int      `json:"minPlayers"`
	MinBlocks   uint64   `json:"minBlocks"`
	WinnerCount int      `json:"winnerCount"`
	Owner       Identity `json:"owner"`
	// PoolAccount holds the pot between purchase and payout.
	PoolAccount Identity `json:"poolAccount"`
}

// RoundSlug describes a single round for rendering round lists.
type RoundSlug struct {
	RoundID int64
	Status  Status
	Players int
	Pot     uint64
}

// Overview describes recent rounds.
type Overview struct {
	Slugs []RoundSlug
}

// CookieKeyValidity is the lifetime of one securecookie key pair.
type CookieKeyValidity struct {
	MintFrom   time.Time `json:"mintFrom"`
	MintUntil  time.Time `json:"mintUntil"`
	HonorUntil time.Time `json:"honorUntil"`
}

// CookieKey is one securecookie key pair, base64-encoded for JSON storage.
type CookieKey struct {
	HashKey64  string            `json:"hashKey64"`
	BlockKey64 string            `json:"blockKey64"`
	Validity   CookieKeyValidity `json:"validity"`
}

// SiteConfig is the web-facing site configuration: who may mint owner
// sessions, and with what keys.  Distinct from the lottery Config, which is
// part of the round lifecycle proper.
type SiteConfig struct {
	CookieDomain         string      `json:"cookieDomain"`
	AllowedOriginDomains []string    `json:"allowedOriginDomains"`
	BonusHTTPPorts       []int       `json:"bonusHTTPPorts"`
	BonusHTTPSPorts      []int       `json:"bonusHTTPSPorts"`
	CookieKeys           []CookieKey `json:"cookieKeys"`

	// OwnerPasswordHash is the bcrypt hash (base64) of the owner password.
	OwnerPasswordHash string `json:"ownerPasswordHash"`
}

// AuthCookieData is what an owner session cookie decodes to.
type AuthCookieData struct {
	Identity Identity `json:"identity"`
	IsOwner  bool     `json:"isOwner"`
}
