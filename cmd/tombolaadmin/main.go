package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"maze.io/x/duration"

	"github.com/tombola-games/tombola/config"
	"github.com/tombola-games/tombola/dbutil"
	"github.com/tombola-games/tombola/defaults"
	"github.com/tombola-games/tombola/he"
	"github.com/tombola-games/tombola/model"
	"github.com/tombola-games/tombola/password"
	"github.com/tombola-games/tombola/state"
	"github.com/tombola-games/tombola/textutil"
)

const (
	// these sizes are recommended by the gorilla/securecookie package
	// https://pkg.go.dev/github.com/gorilla/securecookie#New
	hashKeySize  = 32
	blockKeySize = 16
)

var (
	honorOffset  = 180 * 24 * time.Hour
	mintDuration = 180 * 24 * time.Hour
	startOffset  time.Duration
	clock        clockwork.Clock = clockwork.NewRealClock()

	ownerIdentity string
)

func newStorage(ctx context.Context) state.Storage {
	db, err := dbutil.Connect()
	if err != nil {
		log.Fatalf("can't connect to database: %v", err)
	}
	return state.NewDBStorageFromDB(db)
}

func generateKey(sz int) ([]byte, error) {
	key := make([]byte, sz)
	_, err := rand.Read(key)
	if err != nil {
		return nil, fmt.Errorf("generating random key: %w", err)
	}
	return key, nil
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	pwBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if len(pwBytes) == 0 {
		return "", fmt.Errorf("password is required")
	}
	return string(pwBytes), nil
}

// durationFlag registers a flag parsed with maze.io/x/duration, so validity
// windows can be written as "90d" or "26w" instead of hour soup.
func durationFlag(cmd *cobra.Command, target *time.Duration, name, usage string) {
	cmd.Flags().Func(name, usage, func(s string) error {
		d, err := duration.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("can't parse duration %q: %w", s, err)
		}
		*target = time.Duration(d)
		return nil
	})
}

func getKeyStatus(now time.Time, v model.CookieKeyValidity) string {
	if now.Before(v.MintFrom) {
		return "not yet active"
	}
	if now.After(v.HonorUntil) {
		return "expired"
	}
	if now.After(v.MintUntil) {
		// it's an older code, but it checks out
		return "obsolete"
	}
	return "active"
}

// siteInit sets the owner identity and password.  It's idempotent; rerun
// it to change either.
func siteInit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	storage := newStorage(ctx)
	defer storage.Close()

	if ownerIdentity == "" {
		return fmt.Errorf("--owner is required")
	}

	pw, err := readPassword("Enter owner password: ")
	if err != nil {
		return err
	}

	cfg, err := storage.FetchConfig(ctx)
	if he.IsNotFound(err) {
		cfg = defaults.Config()
	} else if err != nil {
		return fmt.Errorf("fetching config: %w", err)
	}
	cfg.Owner = model.Identity(ownerIdentity)
	if err := storage.SaveConfig(ctx, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	sc, err := storage.FetchSiteConfig(ctx)
	if he.IsNotFound(err) {
		sc = defaults.SiteConfig()
	} else if err != nil {
		return fmt.Errorf("fetching site config: %w", err)
	}
	sc.OwnerPasswordHash = password.Hash(pw)
	if err := storage.SaveSiteConfig(ctx, sc); err != nil {
		return fmt.Errorf("saving site config: %w", err)
	}

	fmt.Printf("Site initialized; owner is %q.\n", ownerIdentity)
	if len(sc.CookieKeys) == 0 {
		fmt.Println("No cookie keys yet; run `tombolaadmin key rotate` before logging in.")
	}
	return nil
}

func checkOwnerPassword(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	storage := newStorage(ctx)
	defer storage.Close()

	sc, err := storage.FetchSiteConfig(ctx)
	if err != nil {
		return fmt.Errorf("fetching site config: %w", err)
	}
	pw, err := readPassword("Enter password: ")
	if err != nil {
		return err
	}
	checker, err := password.NewChecker(sc.OwnerPasswordHash)
	if err != nil {
		return fmt.Errorf("setting up password checker: %w", err)
	}
	if err := checker.Validate(pw); err != nil {
		fmt.Printf("error: %v\n", err)
		return nil
	}
	fmt.Println("ok")
	return nil
}

func listKeys(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	storage := newStorage(ctx)
	defer storage.Close()

	sc, err := storage.FetchSiteConfig(ctx)
	if err != nil {
		return fmt.Errorf("fetching site config: %w", err)
	}

	now := clock.Now()
	fmt.Printf("Current keys (as of %v):\n\n", now.Format(time.RFC3339))

	for i, key := range sc.CookieKeys {
		fmt.Printf("Key %d:\n", i+1)
		fmt.Printf("  Mint window:  %v to %v\n",
			key.Validity.MintFrom.Format(time.RFC3339),
			key.Validity.MintUntil.Format(time.RFC3339))
		fmt.Printf("  Honor until: %v\n",
			key.Validity.HonorUntil.Format(time.RFC3339))
		fmt.Printf("  Status: %v\n\n",
			getKeyStatus(now, key.Validity))
	}
	return nil
}

func rotateKeys(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	storage := newStorage(ctx)
	defer storage.Close()

	sc, err := storage.FetchSiteConfig(ctx)
	if err != nil {
		return fmt.Errorf("fetching site config: %w", err)
	}

	now := clock.Now()
	validKeys := []model.CookieKey{}

	// Keep only non-expired keys
	for _, key := range sc.CookieKeys {
		if now.Before(key.Validity.HonorUntil) {
			validKeys = append(validKeys, key)
		}
	}

	hashKey, err := generateKey(hashKeySize)
	if err != nil {
		return fmt.Errorf("generating hash key: %w", err)
	}
	blockKey, err := generateKey(blockKeySize)
	if err != nil {
		return fmt.Errorf("generating block key: %w", err)
	}

	mintFrom := now.Add(startOffset)
	mintUntil := mintFrom.Add(mintDuration)
	honorUntil := mintUntil.Add(honorOffset)

	newKey := model.CookieKey{
		Validity: model.CookieKeyValidity{
			MintFrom:   mintFrom,
			MintUntil:  mintUntil,
			HonorUntil: honorUntil,
		},
		HashKey64:  base64.StdEncoding.EncodeToString(hashKey),
		BlockKey64: base64.StdEncoding.EncodeToString(blockKey),
	}

	sc.CookieKeys = append(validKeys, newKey)

	if err := storage.SaveSiteConfig(ctx, sc); err != nil {
		return fmt.Errorf("saving updated config: %w", err)
	}

	fmt.Printf("Key rotation complete:\n")
	fmt.Printf("  Start minting: %v\n", mintFrom.Format(time.RFC3339))
	fmt.Printf("  Stop minting:  %v\n", mintUntil.Format(time.RFC3339))
	fmt.Printf("  Honor until:   %v\n", honorUntil.Format(time.RFC3339))
	return nil
}

func showConfig(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	storage := newStorage(ctx)
	defer storage.Close()

	cfg, err := storage.FetchConfig(ctx)
	if err != nil {
		return fmt.Errorf("fetching config: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "owner\t%s\n", cfg.Owner)
	fmt.Fprintf(w, "pool account\t%s\n", cfg.PoolAccount)
	fmt.Fprintf(w, "ticket price\t%d\n", cfg.TicketPrice)
	fmt.Fprintf(w, "min players\t%d\n", cfg.MinPlayers)
	fmt.Fprintf(w, "min blocks\t%d\n", cfg.MinBlocks)
	fmt.Fprintf(w, "winner count\t%d\n", cfg.WinnerCount)
	w.Flush()
	return nil
}

// setConfigField makes a RunE that parses one numeric argument and applies
// it to the config, with the same bounds the live setters enforce.
func setConfigField(apply func(cfg *model.Config, v uint64) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		v, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("can't parse %q: %w", args[0], err)
		}

		ctx := context.Background()
		storage := newStorage(ctx)
		defer storage.Close()

		cfg, err := storage.FetchConfig(ctx)
		if err != nil {
			return fmt.Errorf("fetching config: %w", err)
		}
		if err := apply(cfg, v); err != nil {
			return err
		}
		if err := storage.SaveConfig(ctx, cfg); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		return nil
	}
}

func showRound(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("can't parse round id %q: %w", args[0], err)
	}

	ctx := context.Background()
	storage := newStorage(ctx)
	defer storage.Close()

	r, err := storage.FetchRound(ctx, id)
	if err != nil {
		return fmt.Errorf("fetching round %d: %w", id, err)
	}

	fmt.Printf("Round %d (%s):\n", r.RoundID, r.Status)
	fmt.Printf("  Blocks:     [%d, %d]\n", r.StartBlock, r.EndBlock)
	fmt.Printf("  Pot:        %d\n", r.TotalPot)
	fmt.Printf("  Seed:       %d\n", r.RandomSeed)
	fmt.Printf("  MinPlayers: %d\n", r.MinPlayers)
	fmt.Printf("  Tickets:    %d\n", len(r.Tickets))
	for id, n := range r.TicketCounts {
		fmt.Printf("    %s: %d\n", id, n)
	}
	if len(r.Winners) > 0 {
		fmt.Printf("  Winners:\n")
		for i, win := range r.Winners {
			fmt.Printf("    %s: %s wins %d\n", textutil.FormatPlace(i+1), win.Identity, win.Prize)
		}
	}
	return nil
}

func listRounds(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	storage := newStorage(ctx)
	defer storage.Close()

	overview, err := storage.FetchOverview(ctx, 0, 50)
	if err != nil {
		return fmt.Errorf("fetching overview: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "id\tstatus\tplayers\tpot\n")
	for _, slug := range overview.Slugs {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\n", slug.RoundID, slug.Status, slug.Players, slug.Pot)
	}
	w.Flush()
	return nil
}

func main() {
	config.Init()

	rootCmd := &cobra.Command{
		Short: "Tombola administration tool",
		Use:   "tombolaadmin",
	}

	siteCmd := &cobra.Command{
		Short: "Site bootstrap",
		Use:   "site",
	}
	siteInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Set the owner identity and password",
		RunE:  siteInit,
	}
	siteInitCmd.Flags().StringVar(&ownerIdentity, "owner", "", "Owner identity")
	pwCheckCmd := &cobra.Command{
		Use:   "check-password",
		Short: "Check the owner password",
		RunE:  checkOwnerPassword,
	}
	siteCmd.AddCommand(siteInitCmd, pwCheckCmd)
	rootCmd.AddCommand(siteCmd)

	keyCmd := &cobra.Command{
		Short: "Manage authentication keys",
		Use:   "key",
	}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List current keys and their status",
		RunE:  listKeys,
	}
	rotateCmd := &cobra.Command{
		Use:   "rotate",
		Short: "Remove expired keys and add a new key",
		RunE:  rotateKeys,
	}
	durationFlag(rotateCmd, &startOffset, "start-offset", "How long to wait before the key becomes valid (e.g. 24h)")
	durationFlag(rotateCmd, &mintDuration, "mint-duration", "How long the key should be valid for minting (default 180d)")
	durationFlag(rotateCmd, &honorOffset, "honor-offset", "How long after minting ends to honor the key (default 180d)")
	keyCmd.AddCommand(listCmd, rotateCmd)
	rootCmd.AddCommand(keyCmd)

	configCmd := &cobra.Command{
		Short: "Inspect and change the lottery configuration",
		Use:   "config",
	}
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current configuration",
		RunE:  showConfig,
	}
	setPriceCmd := &cobra.Command{
		Use:   "set-ticket-price [minimum units]",
		Short: "Set the ticket price",
		Args:  cobra.ExactArgs(1),
		RunE: setConfigField(func(cfg *model.Config, v uint64) error {
			if v < model.MinTicketPrice || v > model.MaxTicketPrice {
				return fmt.Errorf("ticket price %d out of bounds [%d, %d]",
					v, model.MinTicketPrice, model.MaxTicketPrice)
			}
			cfg.TicketPrice = v
			return nil
		}),
	}
	setMinPlayersCmd := &cobra.Command{
		Use:   "set-min-players [n]",
		Short: "Set the minimum participant count for a draw",
		Args:  cobra.ExactArgs(1),
		RunE: setConfigField(func(cfg *model.Config, v uint64) error {
			if v == 0 || v > model.MaxMinPlayers {
				return fmt.Errorf("min players %d out of bounds (0, %d]", v, model.MaxMinPlayers)
			}
			cfg.MinPlayers = int(v)
			return nil
		}),
	}
	setMinBlocksCmd := &cobra.Command{
		Use:   "set-min-blocks [n]",
		Short: "Set the purchase window length in blocks",
		Args:  cobra.ExactArgs(1),
		RunE: setConfigField(func(cfg *model.Config, v uint64) error {
			if v < model.MinMinBlocks || v > model.MaxMinBlocks {
				return fmt.Errorf("min blocks %d out of bounds [%d, %d]",
					v, model.MinMinBlocks, model.MaxMinBlocks)
			}
			cfg.MinBlocks = v
			return nil
		}),
	}
	setWinnerCountCmd := &cobra.Command{
		Use:   "set-winner-count [n]",
		Short: "Set the number of winner slots",
		Args:  cobra.ExactArgs(1),
		RunE: setConfigField(func(cfg *model.Config, v uint64) error {
			if v == 0 || v > model.MaxWinners {
				return fmt.Errorf("winner count %d out of bounds (0, %d]", v, model.MaxWinners)
			}
			cfg.WinnerCount = int(v)
			return nil
		}),
	}
	configCmd.AddCommand(showCmd, setPriceCmd, setMinPlayersCmd, setMinBlocksCmd, setWinnerCountCmd)
	rootCmd.AddCommand(configCmd)

	roundCmd := &cobra.Command{
		Short: "Inspect rounds",
		Use:   "round",
	}
	roundShowCmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show one round in detail",
		Args:  cobra.ExactArgs(1),
		RunE:  showRound,
	}
	roundListCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent rounds",
		RunE:  listRounds,
	}
	roundCmd.AddCommand(roundShowCmd, roundListCmd)
	rootCmd.AddCommand(roundCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
