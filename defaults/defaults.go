// Package defaults holds the out-of-the-box configuration records.
package defaults

import "github.com/tombola-games/tombola/model"

// Config is the lottery configuration a fresh site starts with.  Owner is
// deliberately empty; bootstrap (tombolaadmin site-init) must set it
// before anything owner-gated will work.
func Config() *model.Config {
	return &model.Config{
		TicketPrice: 1_000_000, // 1 currency unit
		MinPlayers:  3,
		MinBlocks:   model.MinMinBlocks,
		WinnerCount: 2,
		PoolAccount: "pool",
	}
}

// SiteConfig is the web-facing configuration a fresh site starts with: no
// cookie keys, no owner password, nothing honored.
func SiteConfig() *model.SiteConfig {
	return &model.SiteConfig{
		AllowedOriginDomains: []string{"localhost"},
		BonusHTTPPorts:       []int{8080},
		BonusHTTPSPorts:      []int{},
	}
}
