package lottery

import (
	"context"
	"errors"
	"testing"

	"github.com/tombola-games/tombola/bank"
	"github.com/tombola-games/tombola/fakes"
	"github.com/tombola-games/tombola/model"
	"github.com/tombola-games/tombola/permission"
	"github.com/tombola-games/tombola/seed"
	"github.com/tombola-games/tombola/state"
)

const (
	owner = model.Identity("owner")
	pool  = model.Identity("pool")
	price = uint64(1_000_000)
)

type fixture struct {
	manager *Manager
	storage *state.MemoryStorage
	chain   *fakes.Chain
	ledger  *bank.MemLedger
	flaky   *fakes.FlakyLedger
}

func setup(t *testing.T) *fixture {
	t.Helper()
	storage := state.NewMemoryStorage()
	err := storage.SaveConfig(context.Background(), &model.Config{
		TicketPrice: price,
		MinPlayers:  3,
		MinBlocks:   50,
		WinnerCount: 2,
		Owner:       owner,
		PoolAccount: pool,
	})
	if err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	ch := fakes.NewChain()
	ledger := bank.NewMemLedger()
	flaky := &fakes.FlakyLedger{Inner: ledger}
	return &fixture{
		manager: NewManager(storage, storage, ch, flaky),
		storage: storage,
		chain:   ch,
		ledger:  ledger,
		flaky:   flaky,
	}
}

func as(id model.Identity) context.Context {
	return permission.CallerInContext(context.Background(),
		&model.AuthCookieData{Identity: id, IsOwner: id == owner})
}

// fund gives an identity enough for n tickets.
func (f *fixture) fund(id model.Identity, n uint64) {
	f.ledger.Deposit(id, n*price)
}

func (f *fixture) mustInitialize(t *testing.T) int64 {
	t.Helper()
	id, err := f.manager.Initialize(as(owner))
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return id
}

func (f *fixture) mustBuy(t *testing.T, who model.Identity) {
	t.Helper()
	if err := f.manager.BuyTicket(as(who)); err != nil {
		t.Fatalf("BuyTicket(%s): %v", who, err)
	}
}

func TestInitialize(t *testing.T) {
	f := setup(t)
	f.chain.Advance(10)

	id := f.mustInitialize(t)
	if id != 1 {
		t.Errorf("first round id = %d, want 1", id)
	}

	r, err := f.manager.LotteryInfo(context.Background(), id)
	if err != nil {
		t.Fatalf("LotteryInfo: %v", err)
	}
	if r.Status != model.StatusActive {
		t.Errorf("status = %q, want active", r.Status)
	}
	if r.StartBlock != 10 || r.EndBlock != 60 {
		t.Errorf("window = [%d, %d], want [10, 60]", r.StartBlock, r.EndBlock)
	}
	t10 := f.chain.Genesis + 10*f.chain.Interval
	t9 := f.chain.Genesis + 9*f.chain.Interval
	if want := seed.Derive(t10, t9); r.RandomSeed != want {
		t.Errorf("creation seed = %d, want %d", r.RandomSeed, want)
	}
	if r.TotalPot != 0 || len(r.Participants) != 0 {
		t.Errorf("new round not empty: %+v", r)
	}
}

func TestInitializeAtGenesisUsesZeroPreviousTime(t *testing.T) {
	f := setup(t)
	// Height 0: there is no previous block; its timestamp counts as 0.
	id := f.mustInitialize(t)
	r, _ := f.manager.LotteryInfo(context.Background(), id)
	if want := seed.Derive(f.chain.Genesis, 0); r.RandomSeed != want {
		t.Errorf("seed = %d, want %d", r.RandomSeed, want)
	}
}

func TestInitializeAuthorization(t *testing.T) {
	f := setup(t)
	if _, err := f.manager.Initialize(as("mallory")); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("non-owner initialize: %v, want ErrNotAuthorized", err)
	}
	if _, err := f.manager.Initialize(context.Background()); !errors.Is(err, ErrNoCaller) {
		t.Errorf("anonymous initialize: %v, want ErrNoCaller", err)
	}
}

func TestOwnerIdentityWithoutOwnerSession(t *testing.T) {
	f := setup(t)
	// Asserting the owner's identity through the plain identity path, with
	// no cookie-minted session, must not unlock owner operations.
	ctx := permission.CallerInContext(context.Background(),
		&model.AuthCookieData{Identity: owner})
	if _, err := f.manager.Initialize(ctx); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("owner identity without owner session: %v, want ErrNotAuthorized", err)
	}
}

func TestInitializeWhileActive(t *testing.T) {
	f := setup(t)
	f.mustInitialize(t)
	if _, err := f.manager.Initialize(as(owner)); !errors.Is(err, ErrLotteryInProgress) {
		t.Errorf("initialize while active: %v, want ErrLotteryInProgress", err)
	}
}

func TestInitializeAfterTerminalRound(t *testing.T) {
	f := setup(t)
	f.mustInitialize(t)
	if err := f.manager.Cancel(as(owner)); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	id, err := f.manager.Initialize(as(owner))
	if err != nil {
		t.Fatalf("initialize after cancel: %v", err)
	}
	if id != 2 {
		t.Errorf("second round id = %d, want 2", id)
	}
}

func TestBuyTicket(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	id := f.mustInitialize(t)
	f.fund("alice", 2)

	f.mustBuy(t, "alice")
	f.mustBuy(t, "alice")

	r, _ := f.manager.LotteryInfo(ctx, id)
	if len(r.Participants) != 2 || r.Participants[0] != "alice" {
		t.Errorf("participants = %v", r.Participants)
	}
	if len(r.Tickets) != 2 || r.Tickets[1] != 1 {
		t.Errorf("tickets = %v", r.Tickets)
	}
	if r.TotalPot != 2*price {
		t.Errorf("pot = %d, want %d", r.TotalPot, 2*price)
	}

	n, err := f.manager.ParticipantTickets(ctx, id, "alice")
	if err != nil || n != 2 {
		t.Errorf("ParticipantTickets = %d, %v; want 2", n, err)
	}

	if got, _ := f.ledger.BalanceOf(ctx, "alice"); got != 0 {
		t.Errorf("alice balance = %d, want 0", got)
	}
	if got, _ := f.ledger.BalanceOf(ctx, pool); got != 2*price {
		t.Errorf("pool balance = %d, want %d", got, 2*price)
	}
}

func TestBuyTicketNoRound(t *testing.T) {
	f := setup(t)
	f.fund("alice", 1)
	if err := f.manager.BuyTicket(as("alice")); !errors.Is(err, ErrNoLotteryActive) {
		t.Errorf("buy with no round: %v, want ErrNoLotteryActive", err)
	}
}

func TestBuyTicketWindowClosed(t *testing.T) {
	f := setup(t)
	f.mustInitialize(t)
	f.fund("alice", 1)

	// Window is [start, start+minBlocks] inclusive; one block past the
	// end and sales are over.
	f.chain.Advance(51)
	if err := f.manager.BuyTicket(as("alice")); !errors.Is(err, ErrNoLotteryActive) {
		t.Errorf("buy after window: %v, want ErrNoLotteryActive", err)
	}
}

func TestBuyTicketAtWindowEdges(t *testing.T) {
	f := setup(t)
	f.mustInitialize(t)
	f.fund("alice", 2)

	f.mustBuy(t, "alice") // at start block

	f.chain.Advance(50) // exactly end block
	f.mustBuy(t, "alice")
}

func TestBuyTicketInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	id := f.mustInitialize(t)
	f.ledger.Deposit("alice", price-1)

	if err := f.manager.BuyTicket(as("alice")); !errors.Is(err, bank.ErrInsufficientFunds) {
		t.Fatalf("underfunded buy: %v, want ErrInsufficientFunds", err)
	}

	// Nothing changed.
	r, _ := f.manager.LotteryInfo(ctx, id)
	if len(r.Participants) != 0 || r.TotalPot != 0 {
		t.Errorf("failed buy mutated the round: %+v", r)
	}
	if got, _ := f.ledger.BalanceOf(ctx, "alice"); got != price-1 {
		t.Errorf("alice balance = %d, want %d", got, price-1)
	}
}

func TestBuyTicketCapacity(t *testing.T) {
	f := setup(t)
	f.mustInitialize(t)

	for i := 0; i < model.MaxParticipants; i++ {
		who := model.Identity(string(rune('A'+i/26)) + string(rune('a'+i%26)))
		f.fund(who, 1)
		f.mustBuy(t, who)
	}

	f.fund("straggler", 1)
	if err := f.manager.BuyTicket(as("straggler")); !errors.Is(err, ErrLotteryEnded) {
		t.Errorf("51st ticket: %v, want ErrLotteryEnded", err)
	}
	ctx := context.Background()
	if got, _ := f.ledger.BalanceOf(ctx, "straggler"); got != price {
		t.Errorf("straggler was charged for a rejected ticket: balance %d", got)
	}
}

func TestBuyTicketReadsPriceLive(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	id := f.mustInitialize(t)

	f.fund("alice", 1)
	f.mustBuy(t, "alice")

	newPrice := uint64(2_000_000)
	if err := f.manager.SetTicketPrice(as(owner), newPrice); err != nil {
		t.Fatalf("SetTicketPrice: %v", err)
	}
	f.ledger.Deposit("bob", newPrice)
	f.mustBuy(t, "bob")

	r, _ := f.manager.LotteryInfo(ctx, id)
	if want := price + newPrice; r.TotalPot != want {
		t.Errorf("pot = %d, want %d (mixed prices)", r.TotalPot, want)
	}
}

func TestDrawTooEarly(t *testing.T) {
	f := setup(t)
	f.mustInitialize(t)
	for _, who := range []model.Identity{"a", "b", "c"} {
		f.fund(who, 1)
		f.mustBuy(t, who)
	}

	f.chain.Advance(49)
	if _, err := f.manager.DrawWinners(context.Background()); !errors.Is(err, ErrTooEarly) {
		t.Errorf("draw at +49: %v, want ErrTooEarly", err)
	}
}

func TestDrawNotEnoughParticipants(t *testing.T) {
	f := setup(t)
	f.mustInitialize(t)
	for _, who := range []model.Identity{"a", "b"} {
		f.fund(who, 1)
		f.mustBuy(t, who)
	}

	f.chain.Advance(50)
	if _, err := f.manager.DrawWinners(context.Background()); !errors.Is(err, ErrNoParticipants) {
		t.Errorf("draw below min players: %v, want ErrNoParticipants", err)
	}
}

func TestDrawSettlesRound(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	id := f.mustInitialize(t)
	participants := []model.Identity{"a", "b", "c"}
	for _, who := range participants {
		f.fund(who, 1)
		f.mustBuy(t, who)
	}

	f.chain.Advance(50)
	winners, err := f.manager.DrawWinners(ctx)
	if err != nil {
		t.Fatalf("DrawWinners: %v", err)
	}

	if len(winners) != 2 {
		t.Fatalf("got %d winners, want winner_count=2", len(winners))
	}
	var sum uint64
	for _, w := range winners {
		sum += w.Prize
	}
	if sum != 3*price {
		t.Errorf("prizes sum to %d, want pot %d", sum, 3*price)
	}

	r, _ := f.manager.LotteryInfo(ctx, id)
	if r.Status != model.StatusCompleted {
		t.Errorf("status = %q, want completed", r.Status)
	}

	// The draw seed is derived fresh at the draw height and stored.
	t50 := f.chain.Genesis + 50*f.chain.Interval
	t49 := f.chain.Genesis + 49*f.chain.Interval
	if want := seed.Derive(t50, t49); r.RandomSeed != want {
		t.Errorf("stored seed = %d, want draw seed %d", r.RandomSeed, want)
	}

	// Selection replays from the stored seed.
	wantFirst := participants[(r.RandomSeed+0)%3]
	if winners[0].Identity != wantFirst {
		t.Errorf("slot 0 winner = %s, want %s", winners[0].Identity, wantFirst)
	}

	// Pool fully paid out.
	if got, _ := f.ledger.BalanceOf(ctx, pool); got != 0 {
		t.Errorf("pool balance after payout = %d, want 0", got)
	}
	var winnings uint64
	for _, who := range participants {
		b, _ := f.ledger.BalanceOf(ctx, who)
		winnings += b
	}
	if winnings != 3*price {
		t.Errorf("participants hold %d after payout, want %d", winnings, 3*price)
	}
}

func TestDrawTwiceFails(t *testing.T) {
	f := setup(t)
	f.mustInitialize(t)
	for _, who := range []model.Identity{"a", "b", "c"} {
		f.fund(who, 1)
		f.mustBuy(t, who)
	}
	f.chain.Advance(50)
	if _, err := f.manager.DrawWinners(context.Background()); err != nil {
		t.Fatalf("first draw: %v", err)
	}
	if _, err := f.manager.DrawWinners(context.Background()); !errors.Is(err, ErrLotteryEnded) {
		t.Errorf("second draw: %v, want ErrLotteryEnded", err)
	}
}

func TestDrawPayoutFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	id := f.mustInitialize(t)
	for _, who := range []model.Identity{"a", "b", "c"} {
		f.fund(who, 1)
		f.mustBuy(t, who)
	}
	f.chain.Advance(50)

	// 3 purchase transfers already happened; fail the first payout.
	f.flaky.FailOn = 4
	if _, err := f.manager.DrawWinners(ctx); !errors.Is(err, fakes.ErrInjected) {
		t.Fatalf("expected injected failure, got %v", err)
	}

	// Round not advanced: still active, no winners, pot intact, pool
	// untouched.  Safe to retry.
	r, _ := f.manager.LotteryInfo(ctx, id)
	if r.Status != model.StatusActive || len(r.Winners) != 0 {
		t.Fatalf("failed draw advanced the round: %+v", r)
	}
	if got, _ := f.ledger.BalanceOf(ctx, pool); got != 3*price {
		t.Errorf("pool = %d after aborted draw, want %d", got, 3*price)
	}

	f.flaky.FailOn = 0
	if _, err := f.manager.DrawWinners(ctx); err != nil {
		t.Fatalf("retry draw: %v", err)
	}
}

func TestDrawReadsWinnerCountLiveButWindowFrozen(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.mustInitialize(t)
	for _, who := range []model.Identity{"a", "b", "c", "d"} {
		f.fund(who, 1)
		f.mustBuy(t, who)
	}

	// min_blocks moves for future rounds only; this round's draw height
	// froze at initialization.
	if err := f.manager.SetMinBlocks(as(owner), 1000); err != nil {
		t.Fatalf("SetMinBlocks: %v", err)
	}
	// winner_count is read at draw time.
	if err := f.manager.SetWinnerCount(as(owner), 3); err != nil {
		t.Fatalf("SetWinnerCount: %v", err)
	}

	f.chain.Advance(50)
	winners, err := f.manager.DrawWinners(ctx)
	if err != nil {
		t.Fatalf("DrawWinners: %v", err)
	}
	if len(winners) != 3 {
		t.Errorf("got %d winners, want live winner_count 3", len(winners))
	}
}

func TestDuplicateWinnersPossible(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.mustInitialize(t)
	// Three participants, but alice holds two of the three tickets, so
	// consecutive candidate indices can land on her twice.
	f.fund("alice", 2)
	f.fund("bob", 1)
	f.mustBuy(t, "alice")
	f.mustBuy(t, "alice")
	f.mustBuy(t, "bob")

	f.chain.Advance(50)
	winners, err := f.manager.DrawWinners(ctx)
	if err != nil {
		t.Fatalf("DrawWinners: %v", err)
	}
	if len(winners) != 2 {
		t.Fatalf("got %d winners, want 2", len(winners))
	}

	r, _ := f.manager.CurrentLottery(ctx)
	idx := r.RandomSeed % 3
	// Ticket list is [alice, alice, bob]; slots idx and idx+1.
	if idx == 0 {
		// Slots 0,1 are both alice: the documented duplicate-winner case.
		if winners[0].Identity != "alice" || winners[1].Identity != "alice" {
			t.Errorf("expected alice twice for seed index 0, got %+v", winners)
		}
	}
	var sum uint64
	for _, w := range winners {
		sum += w.Prize
	}
	if sum != 3*price {
		t.Errorf("prizes sum to %d even with duplicates, want %d", sum, 3*price)
	}
}

func TestSetters(t *testing.T) {
	f := setup(t)
	ctx := as(owner)

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"price below floor", func() error { return f.manager.SetTicketPrice(ctx, 99_999) }, ErrInvalidTicketPrice},
		{"price at floor", func() error { return f.manager.SetTicketPrice(ctx, 100_000) }, nil},
		{"price at ceiling", func() error { return f.manager.SetTicketPrice(ctx, 100_000_000) }, nil},
		{"price above ceiling", func() error { return f.manager.SetTicketPrice(ctx, 100_000_001) }, ErrInvalidTicketPrice},
		{"min players zero", func() error { return f.manager.SetMinPlayers(ctx, 0) }, ErrInvalidMinPlayers},
		{"min players at cap", func() error { return f.manager.SetMinPlayers(ctx, 20) }, nil},
		{"min players above cap", func() error { return f.manager.SetMinPlayers(ctx, 21) }, ErrInvalidMinPlayers},
		{"min blocks below floor", func() error { return f.manager.SetMinBlocks(ctx, 49) }, ErrInvalidMinBlocks},
		{"min blocks at floor", func() error { return f.manager.SetMinBlocks(ctx, 50) }, nil},
		{"min blocks at cap", func() error { return f.manager.SetMinBlocks(ctx, 1000) }, nil},
		{"min blocks above cap", func() error { return f.manager.SetMinBlocks(ctx, 1001) }, ErrInvalidMinBlocks},
		{"winner count zero", func() error { return f.manager.SetWinnerCount(ctx, 0) }, ErrInvalidWinners},
		{"winner count at cap", func() error { return f.manager.SetWinnerCount(ctx, 10) }, nil},
		{"winner count above cap", func() error { return f.manager.SetWinnerCount(ctx, 11) }, ErrTooManyWinners},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if tt.want == nil && err != nil {
				t.Errorf("got %v, want success", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSettersRequireOwner(t *testing.T) {
	f := setup(t)
	ctx := as("mallory")
	calls := map[string]func() error{
		"SetTicketPrice": func() error { return f.manager.SetTicketPrice(ctx, 200_000) },
		"SetMinPlayers":  func() error { return f.manager.SetMinPlayers(ctx, 5) },
		"SetMinBlocks":   func() error { return f.manager.SetMinBlocks(ctx, 100) },
		"SetWinnerCount": func() error { return f.manager.SetWinnerCount(ctx, 3) },
		"Cancel":         func() error { return f.manager.Cancel(ctx) },
	}
	for name, call := range calls {
		if err := call(); !errors.Is(err, ErrNotAuthorized) {
			t.Errorf("%s as non-owner: %v, want ErrNotAuthorized", name, err)
		}
	}
}

func TestGetters(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	if p, err := f.manager.TicketPrice(ctx); err != nil || p != price {
		t.Errorf("TicketPrice = %d, %v", p, err)
	}
	if n, err := f.manager.WinnerCount(ctx); err != nil || n != 2 {
		t.Errorf("WinnerCount = %d, %v", n, err)
	}

	id := f.mustInitialize(t)
	s, err := f.manager.LastRandomSeed(ctx)
	if err != nil {
		t.Fatalf("LastRandomSeed: %v", err)
	}
	r, _ := f.manager.LotteryInfo(ctx, id)
	if s != r.RandomSeed {
		t.Errorf("LastRandomSeed = %d, round has %d", s, r.RandomSeed)
	}

	if n, err := f.manager.ParticipantTickets(ctx, id, "nobody"); err != nil || n != 0 {
		t.Errorf("ParticipantTickets for stranger = %d, %v; want 0", n, err)
	}
}

// The end-to-end walk from the settlement rules: initialize, three buyers,
// advance past the draw height, settle, verify, and confirm the round is
// closed to a second draw.
func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	roundID := f.mustInitialize(t)
	for _, who := range []model.Identity{"alice", "bob", "carol"} {
		f.fund(who, 1)
		f.mustBuy(t, who)
	}

	f.chain.Advance(50)
	winners, err := f.manager.DrawWinners(ctx)
	if err != nil {
		t.Fatalf("DrawWinners: %v", err)
	}
	if len(winners) != 2 {
		t.Fatalf("got %d winners, want 2", len(winners))
	}
	var sum uint64
	for _, w := range winners {
		sum += w.Prize
	}
	r, _ := f.manager.LotteryInfo(ctx, roundID)
	if sum != r.TotalPot {
		t.Errorf("prizes sum to %d, pot is %d", sum, r.TotalPot)
	}
	if r.Status != model.StatusCompleted {
		t.Errorf("status = %q, want completed", r.Status)
	}
	if _, err := f.manager.DrawWinners(ctx); !errors.Is(err, ErrLotteryEnded) {
		t.Errorf("second draw: %v, want ErrLotteryEnded", err)
	}
}
