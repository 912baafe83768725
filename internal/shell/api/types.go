package api

import (
	"github.com/artpar/layerpack/internal/core/domain"
	coreretention "github.com/artpar/layerpack/internal/core/retention"
)

// =============================================================================
// Request Types
// =============================================================================

// MergeRequest is the request body for a merge. An empty body merges
// without snapshotting.
type MergeRequest struct {
	BaseVersion   string                  `json:"baseVersion,omitempty"`
	Policy        *domain.PolicyOverrides `json:"policy,omitempty"`
	SkipSnapshot  bool                    `json:"skipSnapshot,omitempty"`
	SkipRetention bool                    `json:"skipRetention,omitempty"`
}

// RetentionRequest is the request body for a retention pass.
type RetentionRequest struct {
	Policy *domain.PolicyOverrides `json:"policy,omitempty"`
}

// =============================================================================
// Response Types
// =============================================================================

// TenantsResponse lists tenants.
type TenantsResponse struct {
	Tenants []string `json:"tenants"`
}

// ReworkResponse lists a tenant's quarantined files.
type ReworkResponse struct {
	Tenant string              `json:"tenant"`
	Files  []domain.ReworkFile `json:"files"`
}

// SnapshotsResponse lists a tenant's snapshots.
type SnapshotsResponse struct {
	Tenant    string            `json:"tenant"`
	Snapshots []domain.Snapshot `json:"snapshots"`
}

// RetentionDecision is one entry of a retention dry run.
type RetentionDecision struct {
	Version string   `json:"version"`
	Delete  bool     `json:"delete"`
	Reasons []string `json:"reasons"`
}

// RetentionPlanResponse is the result of a retention dry run.
type RetentionPlanResponse struct {
	Tenant    string              `json:"tenant"`
	Decisions []RetentionDecision `json:"decisions"`
}

// ErrorResponse is the error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}

func retentionPlanResponse(tenant string, plan coreretention.Plan) RetentionPlanResponse {
	resp := RetentionPlanResponse{Tenant: tenant, Decisions: []RetentionDecision{}}
	for _, d := range plan.All() {
		resp.Decisions = append(resp.Decisions, RetentionDecision{
			Version: d.Snapshot.Version,
			Delete:  d.Delete,
			Reasons: d.Reasons,
		})
	}
	return resp
}
