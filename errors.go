package veclite

import "github.com/lucasastorian/veclite/pkg/verr"

// Error is the structured payload every veclite operation fails with:
// a taxonomy Kind, the failing operation's name, and the wrapped cause.
type Error = verr.Error

// Kind identifies which part of the error taxonomy an Error belongs to.
type Kind = verr.Kind

const (
	KindSchema      = verr.KindSchema
	KindFilterType  = verr.KindFilterType
	KindBadPattern  = verr.KindBadPattern
	KindEmbedder    = verr.KindEmbedder
	KindStorage     = verr.KindStorage
	KindConsistency = verr.KindConsistency
	KindCancelled   = verr.KindCancelled
)

// Sentinel errors callers may test for with errors.Is.
var (
	ErrNotFound          = verr.ErrNotFound
	ErrDimensionMismatch = verr.ErrDimensionMismatch
	ErrClosed            = verr.ErrClosed
	ErrUnknownTable      = verr.ErrUnknownTable
	ErrUnknownColumn     = verr.ErrUnknownColumn
	ErrUnknownField      = verr.ErrUnknownField
	ErrDisconnectedJoin  = verr.ErrDisconnectedJoin
	ErrMissingVectorID   = verr.ErrMissingVectorID
)
