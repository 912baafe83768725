package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/layerpack/internal/core/domain"
)

// =============================================================================
// Test Helpers
// =============================================================================

type fakeRetentionTarget struct {
	mu       sync.Mutex
	tenants  []string
	listErr  error
	failFor  map[string]error
	deleted  map[string][]string
	applied  []string
	inFlight int
	maxSeen  int
	delay    time.Duration
}

func (f *fakeRetentionTarget) ListTenants(ctx context.Context) ([]string, error) {
	return f.tenants, f.listErr
}

func (f *fakeRetentionTarget) ApplyRetention(ctx context.Context, tenant string, overrides *domain.PolicyOverrides) (*domain.RetentionResult, error) {
	f.mu.Lock()
	f.applied = append(f.applied, tenant)
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(f.delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if err := f.failFor[tenant]; err != nil {
		return nil, err
	}
	return &domain.RetentionResult{Deleted: f.deleted[tenant], Kept: []string{"1.0.0-custom.9"}}, nil
}

func (f *fakeRetentionTarget) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

// =============================================================================
// Test Configuration
// =============================================================================

func TestNewRetentionSweeper_DefaultConfig(t *testing.T) {
	s := NewRetentionSweeper(&fakeRetentionTarget{}, RetentionSweeperConfig{}, nil)

	assert.Equal(t, DefaultRetentionSweeperConfig(), s.config)
}

func TestNewRetentionSweeper_CustomConfig(t *testing.T) {
	config := RetentionSweeperConfig{Interval: time.Minute, TenantTimeout: time.Second, MaxConcurrent: 1}
	s := NewRetentionSweeper(&fakeRetentionTarget{}, config, nil)

	assert.Equal(t, config, s.config)
}

// =============================================================================
// Test Sweep
// =============================================================================

func TestSweepNow_AllTenants(t *testing.T) {
	target := &fakeRetentionTarget{
		tenants: []string{"acme", "globex"},
		deleted: map[string][]string{"acme": {"1.0.0-custom.1", "1.0.0-custom.2"}},
	}
	s := NewRetentionSweeper(target, RetentionSweeperConfig{}, nil)

	report, err := s.SweepNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SweepReport{Tenants: 2, Deleted: 2, Kept: 2}, report)
	assert.ElementsMatch(t, []string{"acme", "globex"}, target.applied)
}

func TestSweepNow_FailureDoesNotStopOthers(t *testing.T) {
	boom := errors.New("boom")
	target := &fakeRetentionTarget{
		tenants: []string{"acme", "globex", "initech"},
		failFor: map[string]error{"globex": boom},
	}
	s := NewRetentionSweeper(target, RetentionSweeperConfig{}, nil)

	report, err := s.SweepNow(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "globex")
	assert.Equal(t, 3, report.Tenants)
	assert.Equal(t, 2, report.Kept)
	assert.Equal(t, 3, target.appliedCount())
}

func TestSweepNow_ListFailure(t *testing.T) {
	boom := errors.New("storage down")
	s := NewRetentionSweeper(&fakeRetentionTarget{listErr: boom}, RetentionSweeperConfig{}, nil)

	_, err := s.SweepNow(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestSweepNow_ConcurrencyLimit(t *testing.T) {
	target := &fakeRetentionTarget{
		tenants: []string{"a", "b", "c", "d", "e", "f"},
		delay:   20 * time.Millisecond,
	}
	s := NewRetentionSweeper(target, RetentionSweeperConfig{MaxConcurrent: 2}, nil)

	_, err := s.SweepNow(context.Background())
	require.NoError(t, err)

	assert.LessOrEqual(t, target.maxSeen, 2)
	assert.Equal(t, 6, target.appliedCount())
}

// =============================================================================
// Test Lifecycle
// =============================================================================

func TestRetentionSweeper_StartStop(t *testing.T) {
	target := &fakeRetentionTarget{tenants: []string{"acme"}}
	s := NewRetentionSweeper(target, RetentionSweeperConfig{Interval: 10 * time.Millisecond}, nil)

	s.Start()
	assert.Eventually(t, func() bool { return target.appliedCount() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	// No sweeps after Stop.
	n := target.appliedCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, target.appliedCount())
}

func TestRetentionSweeper_StopWithoutStart(t *testing.T) {
	s := NewRetentionSweeper(&fakeRetentionTarget{}, RetentionSweeperConfig{}, nil)

	// Stop without start should not panic
	s.Stop()
}
