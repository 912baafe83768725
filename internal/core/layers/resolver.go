// Package layers decides, for every path in BASE ∪ CUSTOM, which layer
// supplies the file. This is part of the Functional Core: no I/O.
package layers

import (
	"sort"

	"github.com/artpar/layerpack/internal/core/domain"
)

// =============================================================================
// Resolution
// =============================================================================

// Resolve computes the resolution plan for two layer indices.
//
// For each path in the union of both indices:
//   - present in both: CUSTOM wins, classified as override
//   - present only in CUSTOM: CUSTOM wins, classified as addOnly
//   - present only in BASE: BASE wins, classified as baseOnly
//
// The plan is sorted lexicographically by path so manifests are reproducible.
//
// Example:
//
//	plan := Resolve(
//	    domain.Index{"app.yml": "base/app.yml", "db.sql": "base/db.sql"},
//	    domain.Index{"app.yml": "acme/customadhoc/app.yml"},
//	)
//	// plan[0] = {Path: "app.yml", Winner: custom, Classification: override}
//	// plan[1] = {Path: "db.sql", Winner: base, Classification: baseOnly}
func Resolve(base, custom domain.Index) []domain.Resolution {
	plan := make([]domain.Resolution, 0, len(base)+len(custom))

	for rel, loc := range custom {
		class := domain.ClassAddOnly
		if _, ok := base[rel]; ok {
			class = domain.ClassOverride
		}
		plan = append(plan, domain.Resolution{
			Path:           rel,
			Winner:         domain.WinnerCustom,
			Classification: class,
			Location:       loc,
		})
	}

	for rel, loc := range base {
		if _, ok := custom[rel]; ok {
			continue
		}
		plan = append(plan, domain.Resolution{
			Path:           rel,
			Winner:         domain.WinnerBase,
			Classification: domain.ClassBaseOnly,
			Location:       loc,
		})
	}

	sort.Slice(plan, func(i, j int) bool {
		return plan[i].Path < plan[j].Path
	})
	return plan
}

// PlanSummary counts the decisions in a plan.
type PlanSummary struct {
	Total     int `json:"total"`
	Overrides int `json:"overrides"`
	AddOns    int `json:"addOns"`
	BaseOnly  int `json:"baseOnly"`
}

// Summarize counts the classifications in plan.
func Summarize(plan []domain.Resolution) PlanSummary {
	s := PlanSummary{Total: len(plan)}
	for _, r := range plan {
		switch r.Classification {
		case domain.ClassOverride:
			s.Overrides++
		case domain.ClassAddOnly:
			s.AddOns++
		case domain.ClassBaseOnly:
			s.BaseOnly++
		}
	}
	return s
}
