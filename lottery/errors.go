package lottery

import "errors"

// The failure taxonomy.  Every operation fails with exactly one of these
// (or an error wrapping one); callers branch with errors.Is rather than
// string matching.
var (
	// ErrNoCaller: the operation needs a caller identity and the context
	// doesn't carry one.
	ErrNoCaller = errors.New("no caller identity")

	// ErrNotAuthorized: the caller is not the owner.
	ErrNotAuthorized = errors.New("caller is not the owner")

	// ErrLotteryInProgress: can't start a round while one is active.
	ErrLotteryInProgress = errors.New("a round is already in progress")

	// ErrNoLotteryActive: no active round, or the purchase window is
	// closed at the current block height.
	ErrNoLotteryActive = errors.New("no lottery is active")

	// ErrLotteryEnded: the round can't take this operation any more —
	// the ticket list is full, or the round already settled.
	ErrLotteryEnded = errors.New("lottery has ended")

	// ErrTooEarly: the draw block height hasn't been reached.
	ErrTooEarly = errors.New("too early to draw")

	// ErrNoParticipants: fewer participants than the round's minimum.
	ErrNoParticipants = errors.New("not enough participants")

	// Administrative bounds violations.
	ErrInvalidTicketPrice = errors.New("ticket price out of bounds")
	ErrInvalidMinPlayers  = errors.New("min players out of bounds")
	ErrInvalidMinBlocks   = errors.New("min blocks out of bounds")
	ErrInvalidWinners     = errors.New("winner count out of bounds")
	ErrTooManyWinners     = errors.New("winner count exceeds the slot cap")
)
