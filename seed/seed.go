// Package seed derives the pseudo-random seed that drives winner selection.
//
// This is deliberately a weak source: anyone who can predict or influence
// the two block timestamps can predict the draw.  That's a documented
// property of the scheme, not something to fix here.  Tests pin the formula
// exactly; don't expect randomness quality from it.
package seed

// Modulus keeps seeds inside [0, 1e9).
const Modulus = 1_000_000_000

const (
	currentWeight  = 113
	previousWeight = 151
)

// Derive computes (current*113 + previous*151) mod 1e9.
//
// Timestamps can be arbitrary uint64 encodings, so the raw products can
// exceed 64 bits.  Reducing each operand mod 1e9 first keeps every
// intermediate under 2^38 without changing the result.
func Derive(currentTime, previousTime uint64) uint64 {
	cur := (currentTime % Modulus) * currentWeight
	prev := (previousTime % Modulus) * previousWeight
	return (cur%Modulus + prev%Modulus) % Modulus
}
