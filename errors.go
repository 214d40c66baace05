package driftkv

import "github.com/driftkv/driftkv/errs"

// Error kinds and sentinel errors are defined in the leaf errs package so
// every internal package (store, syncengine, connloop, subscribe) can
// return them without importing this root package. They're re-exported
// here for callers of the public API.
type (
	Kind  = errs.Kind
	Error = errs.Error
)

const (
	KindTransactionClosed = errs.KindTransactionClosed
	KindStoreClosed       = errs.KindStoreClosed
	KindUnknownMutator    = errs.KindUnknownMutator
	KindUnknownIndex      = errs.KindUnknownIndex
	KindIndexExists       = errs.KindIndexExists
	KindInvalidPointer    = errs.KindInvalidPointer
	KindHTTPError         = errs.KindHTTPError
	KindUnauthorized      = errs.KindUnauthorized
	KindReauthLimit       = errs.KindReauthLimit
	KindProtocolError     = errs.KindProtocolError
	KindMutatorFailed     = errs.KindMutatorFailed
)

var (
	ErrTransactionClosed = errs.ErrTransactionClosed
	ErrStoreClosed       = errs.ErrStoreClosed
	ErrUnknownMutator    = errs.ErrUnknownMutator
	ErrUnknownIndex      = errs.ErrUnknownIndex
	ErrIndexExists       = errs.ErrIndexExists
	ErrInvalidPointer    = errs.ErrInvalidPointer
	ErrUnauthorized      = errs.ErrUnauthorized
	ErrReauthLimit       = errs.ErrReauthLimit
	ErrProtocolError     = errs.ErrProtocolError
)
