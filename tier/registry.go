package tier

import (
	"errors"
	"fmt"
	"strings"
)

// Tier classifies how sensitive an application operation is. Tiers one and
// two are satisfied by a single-factor session; tiers three and four demand
// a multi-factor session.
type Tier uint8

const (
	// Tier1 is an exported constant used by the tier policy table.
	Tier1 Tier = 1
	// Tier2 is an exported constant used by the tier policy table.
	Tier2 Tier = 2
	// Tier3 is an exported constant used by the tier policy table.
	Tier3 Tier = 3
	// Tier4 is an exported constant used by the tier policy table.
	Tier4 Tier = 4
)

// RequiresMultiFactor reports whether operations at this tier need a
// multi-factor session.
func (t Tier) RequiresMultiFactor() bool {
	return t >= Tier3
}

// Valid reports whether t is one of the four defined tiers.
func (t Tier) Valid() bool {
	return t >= Tier1 && t <= Tier4
}

func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("tier?(%d)", uint8(t))
	}
	return fmt.Sprintf("tier%d", uint8(t))
}

var (
	// ErrRegistryFrozen is returned when registering after Freeze.
	ErrRegistryFrozen = errors.New("tier registry frozen")
	// ErrOperationExists is returned on duplicate operation registration.
	ErrOperationExists = errors.New("operation already registered")
	// ErrInvalidOperation is returned for empty or malformed operation IDs.
	ErrInvalidOperation = errors.New("invalid operation id")
	// ErrInvalidTier is returned for tiers outside 1..4.
	ErrInvalidTier = errors.New("invalid tier")
)

// Registry is the static operation-to-tier policy table. Operations are
// registered once during startup, the registry is frozen, and every lookup
// afterwards is a read on immutable data. There is no runtime mutation
// lifecycle.
type Registry struct {
	ops    map[string]Tier
	frozen bool
}

// NewRegistry creates an empty, unfrozen policy table.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]Tier)}
}

// Register adds one operation to the table. It fails after Freeze, on
// duplicates, and on tiers outside the defined range.
func (r *Registry) Register(operation string, t Tier) error {
	if r == nil {
		return ErrInvalidOperation
	}
	if r.frozen {
		return ErrRegistryFrozen
	}

	operation = strings.TrimSpace(operation)
	if operation == "" {
		return ErrInvalidOperation
	}
	if !t.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidTier, uint8(t))
	}
	if _, exists := r.ops[operation]; exists {
		return fmt.Errorf("%w: %s", ErrOperationExists, operation)
	}

	r.ops[operation] = t
	return nil
}

// Freeze makes the table immutable. Lookups on a frozen registry need no
// synchronization.
func (r *Registry) Freeze() {
	if r == nil {
		return
	}
	r.frozen = true
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r != nil && r.frozen
}

// Required returns the tier registered for the operation. Unknown
// operations report ok=false; callers fail closed.
func (r *Registry) Required(operation string) (Tier, bool) {
	if r == nil {
		return 0, false
	}
	t, ok := r.ops[operation]
	return t, ok
}

// Len returns the number of registered operations.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.ops)
}
