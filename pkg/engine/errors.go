package engine

import (
	"errors"

	smath "github.com/ava-labs/avalanchego/utils/math"

	"github.com/fortiblox/X1-Bastion/pkg/compute"
	"github.com/fortiblox/X1-Bastion/pkg/pda"
)

// Validation errors. Every check returns one of these, possibly wrapped with
// the failing role; TagOf recovers the tag.
var (
	ErrNotSigner          = errors.New("missing required signature")
	ErrOwnerMismatch      = errors.New("account owner mismatch")
	ErrTypeMismatch       = errors.New("account discriminator mismatch")
	ErrMalformed          = errors.New("malformed account data")
	ErrAlreadyInitialized = errors.New("account already initialized")
	ErrAlreadyClosed      = errors.New("account already closed")
	ErrNotWritable        = errors.New("account not writable")
	ErrAuthorityMismatch  = errors.New("authority does not match stored key")
	ErrNotEnoughAccounts  = errors.New("not enough account keys")
	ErrUnknownInstruction = errors.New("unknown instruction")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInsufficientFunds  = errors.New("insufficient funds")

	ErrDerivationMismatch  = pda.ErrDerivationMismatch
	ErrDerivationExhausted = pda.ErrDerivationExhausted
	ErrOverflow            = smath.ErrOverflow
	ErrUnderflow           = smath.ErrUnderflow
	ErrComputeExceeded     = compute.ErrComputeExceeded
)

// ErrorTag is the stable name of a rejection, returned to callers and stored
// in receipts. It never carries account data.
type ErrorTag string

// Error tags.
const (
	TagNone                ErrorTag = ""
	TagNotSigner           ErrorTag = "NotSigner"
	TagOwnerMismatch       ErrorTag = "OwnerMismatch"
	TagTypeMismatch        ErrorTag = "TypeMismatch"
	TagMalformed           ErrorTag = "Malformed"
	TagAlreadyInitialized  ErrorTag = "AlreadyInitialized"
	TagAlreadyClosed       ErrorTag = "AlreadyClosed"
	TagDerivationMismatch  ErrorTag = "DerivationMismatch"
	TagOverflow            ErrorTag = "Overflow"
	TagUnderflow           ErrorTag = "Underflow"
	TagDerivationExhausted ErrorTag = "DerivationExhausted"
	TagNotWritable         ErrorTag = "NotWritable"
	TagAuthorityMismatch   ErrorTag = "AuthorityMismatch"
	TagNotEnoughAccounts   ErrorTag = "NotEnoughAccounts"
	TagUnknownInstruction  ErrorTag = "UnknownInstruction"
	TagInvalidArgument     ErrorTag = "InvalidArgument"
	TagInsufficientFunds   ErrorTag = "InsufficientFunds"
	TagComputeExceeded     ErrorTag = "ComputeExceeded"
	TagUnknown             ErrorTag = "Unknown"
)

var tagTable = []struct {
	err error
	tag ErrorTag
}{
	{ErrNotSigner, TagNotSigner},
	{ErrOwnerMismatch, TagOwnerMismatch},
	{ErrTypeMismatch, TagTypeMismatch},
	{ErrMalformed, TagMalformed},
	{ErrAlreadyInitialized, TagAlreadyInitialized},
	{ErrAlreadyClosed, TagAlreadyClosed},
	{ErrDerivationMismatch, TagDerivationMismatch},
	{ErrOverflow, TagOverflow},
	{ErrUnderflow, TagUnderflow},
	{ErrDerivationExhausted, TagDerivationExhausted},
	{ErrNotWritable, TagNotWritable},
	{ErrAuthorityMismatch, TagAuthorityMismatch},
	{ErrNotEnoughAccounts, TagNotEnoughAccounts},
	{ErrUnknownInstruction, TagUnknownInstruction},
	{ErrInvalidArgument, TagInvalidArgument},
	{ErrInsufficientFunds, TagInsufficientFunds},
	{ErrComputeExceeded, TagComputeExceeded},
	{pda.ErrMaxSeedsExceeded, TagInvalidArgument},
	{pda.ErrMaxSeedLengthExceeded, TagInvalidArgument},
	{pda.ErrInvalidSeeds, TagInvalidArgument},
}

// TagOf maps an error to its tag. Errors outside the taxonomy map to
// TagUnknown; nil maps to TagNone.
func TagOf(err error) ErrorTag {
	if err == nil {
		return TagNone
	}
	for _, entry := range tagTable {
		if errors.Is(err, entry.err) {
			return entry.tag
		}
	}
	return TagUnknown
}
