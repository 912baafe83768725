// Package retention decides which snapshots survive garbage collection.
//
// The planner is pure: it receives the full snapshot list and a clock value
// and returns a decision for every snapshot. Applying the decision (deleting
// directories) is the job of internal/shell/retention.
package retention

import (
	"fmt"
	"sort"
	"time"

	"github.com/artpar/layerpack/internal/core/domain"
)

// Reasons attached to decisions.
const (
	ReasonFloor         = "at or below minimum snapshot count"
	ReasonLatestPerBase = "latest for base version"
	ReasonNewest        = "within newest maxSnapshots"
	ReasonMinimum       = "within newest minSnapshots"
	ReasonExpired       = "older than maxAgeDays"
	ReasonOverCap       = "exceeds maxSnapshots"
	ReasonRetained      = "not expired and within cap"
)

// Decision is the verdict for one snapshot.
type Decision struct {
	Snapshot domain.Snapshot `json:"snapshot"`
	Delete   bool            `json:"delete"`
	Reasons  []string        `json:"reasons"`
}

// Plan is the outcome of a retention planning pass.
type Plan struct {
	Keep   []Decision `json:"keep"`
	Delete []Decision `json:"delete"`
}

// All returns the kept decisions followed by the deletions.
func (p Plan) All() []Decision {
	out := make([]Decision, 0, len(p.Keep)+len(p.Delete))
	out = append(out, p.Keep...)
	return append(out, p.Delete...)
}

// DeleteVersions returns the versions scheduled for deletion.
func (p Plan) DeleteVersions() []string {
	return versions(p.Delete)
}

// KeepVersions returns the versions that survive.
func (p Plan) KeepVersions() []string {
	return versions(p.Keep)
}

func versions(ds []Decision) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Snapshot.Version)
	}
	return out
}

// Compute builds the retention plan for one tenant's snapshots.
//
// Every decision is taken against the input list; nothing is deleted here.
// Protected snapshots (latest per base, newest maxSnapshots, newest
// minSnapshots) are never deleted, even when they are past maxAgeDays.
func Compute(snaps []domain.Snapshot, policy domain.RetentionPolicy, now time.Time) Plan {
	byAge := make([]domain.Snapshot, len(snaps))
	copy(byAge, snaps)
	domain.SortSnapshotsByAge(byAge)

	var plan Plan

	if len(byAge) <= policy.MinSnapshots {
		for _, s := range byAge {
			plan.Keep = append(plan.Keep, Decision{Snapshot: s, Reasons: []string{ReasonFloor}})
		}
		return plan
	}

	protected := protect(byAge, policy)

	// Candidates are visited oldest first so the cap removes the oldest.
	deleted := make(map[string]bool)
	live := len(byAge)
	var cutoff time.Time
	if policy.MaxAgeDays > 0 {
		cutoff = now.Add(-time.Duration(policy.MaxAgeDays) * 24 * time.Hour)
	}
	reasons := make(map[string][]string)
	for i := len(byAge) - 1; i >= 0; i-- {
		s := byAge[i]
		if len(protected[s.Version]) > 0 {
			continue
		}
		switch {
		case !cutoff.IsZero() && s.CreatedAt.Before(cutoff):
			reasons[s.Version] = []string{ReasonExpired}
		case policy.MaxSnapshots > 0 && live > policy.MaxSnapshots:
			reasons[s.Version] = []string{ReasonOverCap}
		default:
			continue
		}
		deleted[s.Version] = true
		live--
	}

	for _, s := range byAge {
		switch {
		case deleted[s.Version]:
			plan.Delete = append(plan.Delete, Decision{Snapshot: s, Delete: true, Reasons: reasons[s.Version]})
		case len(protected[s.Version]) > 0:
			plan.Keep = append(plan.Keep, Decision{Snapshot: s, Reasons: protected[s.Version]})
		default:
			plan.Keep = append(plan.Keep, Decision{Snapshot: s, Reasons: []string{ReasonRetained}})
		}
	}
	return plan
}

// protect returns the protection reasons per version. byAge must be sorted
// newest first.
func protect(byAge []domain.Snapshot, policy domain.RetentionPolicy) map[string][]string {
	out := make(map[string][]string)
	add := func(version, reason string) {
		out[version] = append(out[version], reason)
	}

	if policy.KeepLatestPerBase > 0 {
		perBase := make(map[string][]domain.Snapshot)
		for _, s := range byAge {
			perBase[s.BaseVersion] = append(perBase[s.BaseVersion], s)
		}
		for base, group := range perBase {
			sort.SliceStable(group, func(i, j int) bool {
				return group[i].Increment > group[j].Increment
			})
			for i := 0; i < len(group) && i < policy.KeepLatestPerBase; i++ {
				add(group[i].Version, fmt.Sprintf("%s %s", ReasonLatestPerBase, base))
			}
		}
	}

	for i := 0; i < len(byAge) && i < policy.MaxSnapshots; i++ {
		add(byAge[i].Version, ReasonNewest)
	}
	for i := 0; i < len(byAge) && i < policy.MinSnapshots; i++ {
		add(byAge[i].Version, ReasonMinimum)
	}
	return out
}
