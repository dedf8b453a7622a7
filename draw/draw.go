// Package draw turns a seed and a participant list into an ordered winner
// list with prizes attached.
package draw

import (
	"errors"

	"github.com/tombola-games/tombola/model"
	"github.com/tombola-games/tombola/prize"
)

// ErrNoParticipants is returned when there is nobody to draw from.
var ErrNoParticipants = errors.New("no participants to draw from")

// SelectWinners picks up to winnerCount winners from participants using the
// seed, assigning prizes in slot order so the split remainder lands on the
// slot-0 winner.
//
// Slot k's candidate is participants[(seed+k) mod len(participants)],
// indexing the full unmodified list every time.  Chosen participants are
// not removed, so one identity can win several slots when the list is
// short relative to the slot count or when slot seeds collide modulo the
// list length.
func SelectWinners(participants []model.Identity, seed, winnerCount, totalPot uint64) ([]model.Winner, error) {
	needed := winnerCount
	if n := uint64(len(participants)); n < needed {
		needed = n
	}
	if needed > model.MaxWinners {
		needed = model.MaxWinners
	}
	if needed == 0 {
		return nil, ErrNoParticipants
	}

	winners := make([]model.Winner, 0, needed)
	for slot := uint64(0); slot < needed; slot++ {
		candidate := (seed + slot) % uint64(len(participants))
		p, err := prize.ForSlot(totalPot, slot, needed)
		if err != nil {
			return nil, err
		}
		winners = append(winners, model.Winner{
			Identity: participants[candidate],
			Prize:    p,
		})
	}
	return winners, nil
}
