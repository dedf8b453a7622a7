// Package prize splits a pot across winner slots so that no minimum unit is
// lost or created.  The whole integer-division remainder lands on slot 0
// rather than being spread round-robin.
package prize

import "errors"

// ErrNoWinners is returned when asked to split a pot across zero slots.
var ErrNoWinners = errors.New("can't split a pot across zero winners")

// ForSlot computes the prize for one slot of a draw with totalWinners
// slots.  Every slot gets pot/totalWinners (truncating); slot 0 also gets
// the remainder.  Summing ForSlot over all slots yields exactly totalPot.
func ForSlot(totalPot, slotIndex, totalWinners uint64) (uint64, error) {
	if totalWinners == 0 {
		return 0, ErrNoWinners
	}
	p := totalPot / totalWinners
	if slotIndex == 0 {
		p += totalPot % totalWinners
	}
	return p, nil
}

// Split returns the full prize vector for a draw.  Convenience over
// ForSlot; same guarantees.
func Split(totalPot, totalWinners uint64) ([]uint64, error) {
	if totalWinners == 0 {
		return nil, ErrNoWinners
	}
	prizes := make([]uint64, totalWinners)
	for i := range prizes {
		p, err := ForSlot(totalPot, uint64(i), totalWinners)
		if err != nil {
			return nil, err
		}
		prizes[i] = p
	}
	return prizes, nil
}
