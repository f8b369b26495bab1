package engine

import (
	"errors"
	"fmt"

	"github.com/bridgesplit/listings/internal/custody"
	"github.com/bridgesplit/listings/internal/payments"
	"github.com/bridgesplit/listings/internal/store"
)

// Kind classifies an operation failure. Every public operation returns
// either nil or an *Error carrying exactly one Kind.
type Kind string

const (
	// KindAuthorization — caller does not match the required owner or
	// authority.
	KindAuthorization Kind = "authorization"
	// KindState — operation attempted against a closed order/market, or
	// an increasing edit on an inactive order.
	KindState Kind = "state"
	// KindInsufficientBalance — wallet or caller balance below the
	// required reservation, debit, or withdrawal amount.
	KindInsufficientBalance Kind = "insufficient_balance"
	// KindInvalidParameters — non-positive price/size, mismatched
	// market/order linkage, or missing custody proof material.
	KindInvalidParameters Kind = "invalid_parameters"
	// KindAlreadySettled — duplicate-settlement guard.
	KindAlreadySettled Kind = "already_settled"
	// KindCustody — the asset-transfer adapter rejected a lock, unlock,
	// or move.
	KindCustody Kind = "custody"
	// KindNotFound — no record at the derived address.
	KindNotFound Kind = "not_found"
)

// Error is a typed operation failure.
type Error struct {
	Kind Kind
	Op   string // operation name, e.g. "init_buy_order"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets callers match on kind with a bare &Error{Kind: ...} target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// errf builds an *Error from a format string.
func errf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from an operation error, or "" for nil and
// foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// wrap classifies a collaborator error into the taxonomy. Store misses
// become KindNotFound, missing proof material is a parameter fault,
// payment shortfalls map to the balance kind, and other custody-layer
// rejections are custody failures; anything unrecognized gets the
// fallback kind.
func wrap(op string, err error, fallback Kind) *Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return &Error{Kind: KindNotFound, Op: op, Err: err}
	case errors.Is(err, custody.ErrMissingProof):
		return &Error{Kind: KindInvalidParameters, Op: op, Err: err}
	case errors.Is(err, payments.ErrInsufficientFunds):
		return &Error{Kind: KindInsufficientBalance, Op: op, Err: err}
	case errors.Is(err, custody.ErrWrongOwner),
		errors.Is(err, custody.ErrNotEscrowed),
		errors.Is(err, custody.ErrUnknownAsset),
		errors.Is(err, custody.ErrUnknownPolicy),
		errors.Is(err, custody.ErrProofMismatch),
		errors.Is(err, custody.ErrAssetFrozen),
		errors.Is(err, custody.ErrNoDelegate),
		errors.Is(err, custody.ErrNotFrozen),
		errors.Is(err, custody.ErrWrongDelegate):
		return &Error{Kind: KindCustody, Op: op, Err: err}
	default:
		return &Error{Kind: fallback, Op: op, Err: err}
	}
}
