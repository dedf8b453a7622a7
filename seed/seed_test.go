package seed

import "testing"

func TestDerive(t *testing.T) {
	tests := []struct {
		name     string
		current  uint64
		previous uint64
		want     uint64
	}{
		{
			name:     "documented example",
			current:  10,
			previous: 5,
			want:     1885, // 10*113 + 5*151
		},
		{
			name:     "zero previous (no prior block)",
			current:  10,
			previous: 0,
			want:     1130,
		},
		{
			name:     "both zero",
			current:  0,
			previous: 0,
			want:     0,
		},
		{
			name:     "wraps the modulus",
			current:  999_999_999,
			previous: 999_999_999,
			want:     (999_999_999*113 + 999_999_999*151) % Modulus,
		},
		{
			name:     "huge timestamps reduce before multiplying",
			current:  18_446_744_073_709_551_615, // max uint64
			previous: 18_446_744_073_709_551_615,
			// (max % 1e9) = 709551615; same answer as if we had 128-bit
			// intermediates, because (a*b) mod m == ((a mod m)*b) mod m.
			want: (709_551_615*113 + 709_551_615*151) % Modulus,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Derive(tt.current, tt.previous); got != tt.want {
				t.Errorf("Derive(%d, %d) = %d, want %d", tt.current, tt.previous, got, tt.want)
			}
		})
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	a := Derive(1_723_449_600, 1_723_449_585)
	for i := 0; i < 10; i++ {
		if b := Derive(1_723_449_600, 1_723_449_585); b != a {
			t.Fatalf("Derive not deterministic: %d then %d", a, b)
		}
	}
}

func TestDeriveRange(t *testing.T) {
	inputs := []uint64{0, 1, 12345, 999_999_999, 1_000_000_000, 1 << 40, 1<<64 - 1}
	for _, cur := range inputs {
		for _, prev := range inputs {
			if got := Derive(cur, prev); got >= Modulus {
				t.Errorf("Derive(%d, %d) = %d, out of range", cur, prev, got)
			}
		}
	}
}
