package mst

import (
	"errors"
	"fmt"
)

// Error kinds returned by the core. None of these are recovered internally;
// every mutating operation is all-or-nothing from the caller's perspective.
var (
	// ErrKeyExists is returned by Add when the key already has a leaf at
	// the layer it naturally belongs to.
	ErrKeyExists = errors.New("mst: key already exists")

	// ErrKeyNotFound is returned by Edit when the key is absent from the
	// tree. Get reports a miss through its boolean result instead.
	ErrKeyNotFound = errors.New("mst: key not found")

	// ErrLayerUnknown is returned by Load when a node has no leaves of its
	// own (so its layer can't be inferred) and no layer hint was supplied.
	ErrLayerUnknown = errors.New("mst: cannot infer layer of an all-subtree node without a hint")

	// ErrBlockNotFound wraps a block store miss. The block store is the
	// authority on this error; the core only adds context.
	ErrBlockNotFound = errors.New("mst: block not found")

	// ErrDecode is returned when a fetched block cannot be decoded as a
	// NodeData.
	ErrDecode = errors.New("mst: could not decode node")

	// ErrInvalidTree marks a structural invariant violation caught at
	// runtime (e.g. two adjacent subtree pointers).
	ErrInvalidTree = errors.New("mst: invalid tree structure")
)

// wrapBlockNotFound annotates a block store miss with ErrBlockNotFound
// while preserving the underlying error for errors.Is/As.
func wrapBlockNotFound(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrBlockNotFound, err)
}

// wrapDecode annotates a block that was fetched but could not be decoded
// as a NodeData with ErrDecode, preserving the underlying error.
func wrapDecode(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrDecode, err)
}
