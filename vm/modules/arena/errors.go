package arena

import (
	"errors"

	"github.com/tolelom/tolarena/fixedpoint"
	"github.com/tolelom/tolarena/payout"
	"github.com/tolelom/tolarena/pricing"
	"github.com/tolelom/tolarena/vm/modules/economy"
)

var (
	ErrInvalidPayload         = errors.New("invalid payload")
	ErrInvalidConfig          = errors.New("invalid config")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrTicketTooCheap         = errors.New("ticket below minimum price")
	ErrInvalidWinner          = errors.New("invalid winner address")
	ErrZeroAllocation         = errors.New("zero allocation")
	ErrWrongMatchForDay       = errors.New("match does not belong to this day")
	ErrMatchClosed            = errors.New("match closed")
	ErrTooEarlyToFinalize     = errors.New("too early to finalize")
	ErrMatchAlreadyFinalized  = errors.New("match already finalized")
	ErrMatchNotFinalized      = errors.New("match not finalized")
	ErrRoundNotFound          = errors.New("round not found")
	ErrEmptyPot               = errors.New("empty pot")
	ErrAlreadyInitialized     = errors.New("config already initialized")
	ErrNotInitialized         = errors.New("config not initialized")
	ErrEntryExists            = errors.New("entry already exists")
	ErrAllocationExists       = errors.New("allocation already recorded")
	ErrAllocationNotFound     = errors.New("allocation not found")
	ErrAllocationExceedsPrize = errors.New("allocations exceed prize pool")
	ErrAlreadyClaimed         = errors.New("already claimed")
	ErrUnauthorized           = errors.New("signer is not the authority")
	ErrInvalidAllocationOwner = errors.New("allocation belongs to another winner")
	ErrVaultMismatch          = errors.New("vault address does not match its seeds")

	ErrInsufficientBalance = economy.ErrInsufficientBalance
)

// Kind groups failures for metrics and callers that retry.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindState
	KindExternal
	KindArithmetic
	KindAuthorization
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindExternal:
		return "external"
	case KindArithmetic:
		return "arithmetic"
	case KindAuthorization:
		return "authorization"
	}
	return "internal"
}

var kinds = []struct {
	kind Kind
	errs []error
}{
	{KindValidation, []error{
		ErrInvalidPayload, ErrInvalidConfig, ErrInvalidAmount, ErrTicketTooCheap,
		ErrInvalidWinner, ErrZeroAllocation, payout.ErrInvalidRank,
	}},
	{KindState, []error{
		ErrWrongMatchForDay, ErrMatchClosed, ErrTooEarlyToFinalize, ErrMatchAlreadyFinalized,
		ErrMatchNotFinalized, ErrRoundNotFound, ErrEmptyPot, ErrAlreadyInitialized,
		ErrNotInitialized, ErrEntryExists, ErrAllocationExists, ErrAllocationNotFound,
		ErrAllocationExceedsPrize, ErrAlreadyClaimed, ErrInsufficientBalance,
	}},
	{KindExternal, []error{pricing.ErrPriceFeed, pricing.ErrPriceStale, pricing.ErrConfidenceTooWide}},
	{KindArithmetic, []error{fixedpoint.ErrOverflow, fixedpoint.ErrDivideByZero}},
	{KindAuthorization, []error{ErrUnauthorized, ErrInvalidAllocationOwner}},
}

// Classify maps an operation error onto its Kind.
func Classify(err error) Kind {
	for _, k := range kinds {
		for _, target := range k.errs {
			if errors.Is(err, target) {
				return k.kind
			}
		}
	}
	return KindInternal
}
