/*

This file defines the strategy adaptor contract and the registry the engine
resolves adaptors from. An adaptor computes the total claimable USD value of
one external-protocol position, including accrued-but-uncollected yield.
Omitting accrued yield undervalues the position and is a defect.

*/

package adaptor

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/custodia-labs/cvm/internal/pricing"
	"github.com/custodia-labs/cvm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrAdaptorUnknown  = errors.New("adaptor is not registered")
	ErrPositionInvalid = errors.New("position data is invalid")
	ErrAdaptorMismatch = errors.New("position does not belong to this adaptor")
)

// Adaptor values one kind of external strategy position. Implementations are
// pure with respect to engine state: they read prices from the book and the
// position snapshot, nothing else.
//
// The returned value is signed canonical 9-decimal USD. A position whose
// liabilities exceed its assets must be returned as a negative value, never
// floored to zero.
type Adaptor interface {
	Name() string
	ComputePositionValue(pos *types.Position, book *pricing.PriceBook, now time.Time) (sdkmath.Int, error)
}

// Registry resolves adaptors by name.
type Registry struct {
	adaptors map[string]Adaptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adaptors: make(map[string]Adaptor)}
}

// Register adds an adaptor. Re-registering a name is a programming error and
// panics at startup rather than silently replacing a live adaptor.
func (r *Registry) Register(a Adaptor) {
	if _, exists := r.adaptors[a.Name()]; exists {
		panic(fmt.Sprintf("adaptor %q registered twice", a.Name()))
	}
	r.adaptors[a.Name()] = a
}

// Get resolves an adaptor by name.
func (r *Registry) Get(name string) (Adaptor, error) {
	a, exists := r.adaptors[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAdaptorUnknown, name)
	}
	return a, nil
}
