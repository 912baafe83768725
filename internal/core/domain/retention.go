package domain

import "fmt"

// =============================================================================
// Retention Policy
// =============================================================================

// Default retention values.
const (
	DefaultMaxSnapshots      = 10
	DefaultMinSnapshots      = 3
	DefaultMaxAgeDays        = 30
	DefaultKeepLatestPerBase = 2
)

// RetentionPolicy governs which snapshots survive garbage collection.
//
// A zero MaxSnapshots disables the count cap and a zero MaxAgeDays disables
// the age rule. MinSnapshots is a floor: retention never leaves fewer
// snapshots than this.
type RetentionPolicy struct {
	MaxSnapshots      int `json:"maxSnapshots" mapstructure:"max_snapshots"`
	MinSnapshots      int `json:"minSnapshots" mapstructure:"min_snapshots"`
	MaxAgeDays        int `json:"maxAgeDays" mapstructure:"max_age_days"`
	KeepLatestPerBase int `json:"keepLatestPerBase" mapstructure:"keep_latest_per_base"`
}

// DefaultRetentionPolicy returns the documented defaults.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		MaxSnapshots:      DefaultMaxSnapshots,
		MinSnapshots:      DefaultMinSnapshots,
		MaxAgeDays:        DefaultMaxAgeDays,
		KeepLatestPerBase: DefaultKeepLatestPerBase,
	}
}

// Validate checks the policy for negative or contradictory values.
func (p RetentionPolicy) Validate() error {
	switch {
	case p.MaxSnapshots < 0:
		return fmt.Errorf("%w: maxSnapshots must not be negative", ErrInvalidPolicy)
	case p.MinSnapshots < 0:
		return fmt.Errorf("%w: minSnapshots must not be negative", ErrInvalidPolicy)
	case p.MaxAgeDays < 0:
		return fmt.Errorf("%w: maxAgeDays must not be negative", ErrInvalidPolicy)
	case p.KeepLatestPerBase < 0:
		return fmt.Errorf("%w: keepLatestPerBase must not be negative", ErrInvalidPolicy)
	case p.MaxSnapshots > 0 && p.MinSnapshots > p.MaxSnapshots:
		return fmt.Errorf("%w: minSnapshots (%d) exceeds maxSnapshots (%d)", ErrInvalidPolicy, p.MinSnapshots, p.MaxSnapshots)
	}
	return nil
}

// PolicyOverrides replaces individual policy fields for a single call.
// Nil fields keep the configured value.
type PolicyOverrides struct {
	MaxSnapshots      *int `json:"maxSnapshots,omitempty"`
	MinSnapshots      *int `json:"minSnapshots,omitempty"`
	MaxAgeDays        *int `json:"maxAgeDays,omitempty"`
	KeepLatestPerBase *int `json:"keepLatestPerBase,omitempty"`
}

// Apply returns p with the non-nil overrides applied.
func (p RetentionPolicy) Apply(o *PolicyOverrides) RetentionPolicy {
	if o == nil {
		return p
	}
	if o.MaxSnapshots != nil {
		p.MaxSnapshots = *o.MaxSnapshots
	}
	if o.MinSnapshots != nil {
		p.MinSnapshots = *o.MinSnapshots
	}
	if o.MaxAgeDays != nil {
		p.MaxAgeDays = *o.MaxAgeDays
	}
	if o.KeepLatestPerBase != nil {
		p.KeepLatestPerBase = *o.KeepLatestPerBase
	}
	return p
}

// RetentionResult lists what a retention pass removed and what survived.
// A snapshot whose deletion failed is reported in Kept, never in Deleted.
type RetentionResult struct {
	Deleted  []string `json:"deleted"`
	Kept     []string `json:"kept"`
	Warnings []string `json:"warnings,omitempty"`
}
