package domain

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// =============================================================================
// Layout Configuration
// =============================================================================

// TenantPlaceholder is substituted with the tenant name in layout templates.
const TenantPlaceholder = "{tenant}"

// Default layout templates, relative to the storage backend root.
const (
	DefaultBasePath      = "base"
	DefaultCustomPath    = "{tenant}/customadhoc"
	DefaultRuntimePath   = "{tenant}/runtime"
	DefaultReworkPath    = "{tenant}/rework_required"
	DefaultSnapshotsPath = "{tenant}/snapshots"
)

// Well-known file names inside the derived trees.
const (
	ManifestFileName  = "RUNTIME_MANIFEST.json"
	ErrorReportSuffix = ".error.json"
)

// SnapshotMetaDir sits next to the snapshot directories and holds one
// {version}.json record per snapshot, so the copied tree stays untouched.
const SnapshotMetaDir = ".meta"

// Config describes where each layer lives in the storage backend and the
// retention policy applied to snapshots. It is passed explicitly to the
// engine; nothing is derived from process-wide state.
type Config struct {
	BasePath      string          `mapstructure:"base_path"`
	CustomPath    string          `mapstructure:"custom_path"`
	RuntimePath   string          `mapstructure:"runtime_path"`
	ReworkPath    string          `mapstructure:"rework_path"`
	SnapshotsPath string          `mapstructure:"snapshots_path"`
	Retention     RetentionPolicy `mapstructure:"retention"`
}

// DefaultConfig returns the default layout:
//
//	base/
//	{tenant}/customadhoc/
//	{tenant}/runtime/
//	{tenant}/rework_required/
//	{tenant}/snapshots/{version}/
func DefaultConfig() Config {
	return Config{
		BasePath:      DefaultBasePath,
		CustomPath:    DefaultCustomPath,
		RuntimePath:   DefaultRuntimePath,
		ReworkPath:    DefaultReworkPath,
		SnapshotsPath: DefaultSnapshotsPath,
		Retention:     DefaultRetentionPolicy(),
	}
}

// Validate checks that every tenant-scoped template mentions the tenant and
// that the shared BASE path does not.
func (c Config) Validate() error {
	if CleanPath(c.BasePath) == "" {
		return fmt.Errorf("%w: base_path is required", ErrInvalidConfig)
	}
	if strings.Contains(c.BasePath, TenantPlaceholder) {
		return fmt.Errorf("%w: base_path is shared and must not contain %s", ErrInvalidConfig, TenantPlaceholder)
	}
	templates := map[string]string{
		"custom_path":    c.CustomPath,
		"runtime_path":   c.RuntimePath,
		"rework_path":    c.ReworkPath,
		"snapshots_path": c.SnapshotsPath,
	}
	seen := make(map[string]string, len(templates))
	for name, tmpl := range templates {
		if !strings.Contains(tmpl, TenantPlaceholder) {
			return fmt.Errorf("%w: %s must contain %s", ErrInvalidConfig, name, TenantPlaceholder)
		}
		clean := path.Clean(tmpl)
		if other, dup := seen[clean]; dup {
			return fmt.Errorf("%w: %s and %s resolve to the same path", ErrInvalidConfig, name, other)
		}
		seen[clean] = name
	}
	return c.Retention.Validate()
}

// TenantPaths are the concrete backend paths of one tenant.
type TenantPaths struct {
	Tenant    string
	Base      string
	Custom    string
	Runtime   string
	Rework    string
	Snapshots string
	// Staging receives the next RUNTIME build before it is swapped in.
	Staging string
	// Previous briefly holds the old RUNTIME during the swap.
	Previous string
}

// Paths expands the layout templates for tenant.
func (c Config) Paths(tenant string) (TenantPaths, error) {
	if err := ValidateTenant(tenant); err != nil {
		return TenantPaths{}, err
	}
	expand := func(tmpl string) string {
		return CleanPath(strings.ReplaceAll(tmpl, TenantPlaceholder, tenant))
	}
	runtime := expand(c.RuntimePath)
	dir, name := path.Split(runtime)
	tp := TenantPaths{
		Tenant:    tenant,
		Base:      CleanPath(c.BasePath),
		Custom:    expand(c.CustomPath),
		Runtime:   runtime,
		Rework:    expand(c.ReworkPath),
		Snapshots: expand(c.SnapshotsPath),
		Staging:   CleanPath(path.Join(dir, "."+name+"-staging")),
		Previous:  CleanPath(path.Join(dir, "."+name+"-previous")),
	}
	for _, p := range []string{tp.Custom, tp.Runtime, tp.Rework, tp.Snapshots} {
		if overlaps(p, tp.Base) {
			return TenantPaths{}, fmt.Errorf("%w: %q collides with the shared base path %q", ErrInvalidTenant, tenant, tp.Base)
		}
	}
	return tp, nil
}

// overlaps reports whether one path is equal to or nested in the other.
func overlaps(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// TenantRoot returns the directory holding one child per tenant, derived
// from the custom_path template ("{tenant}/customadhoc" → ""). ok is false
// when the tenant is not a whole path segment of the template.
func (c Config) TenantRoot() (root string, ok bool) {
	tmpl := CleanPath(c.CustomPath)
	idx := strings.Index(tmpl, TenantPlaceholder)
	if idx < 0 {
		return "", false
	}
	prefix := tmpl[:idx]
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		return "", false
	}
	rest := tmpl[idx+len(TenantPlaceholder):]
	if rest != "" && !strings.HasPrefix(rest, "/") {
		return "", false
	}
	return strings.TrimSuffix(prefix, "/"), true
}

// =============================================================================
// Tenant Names and Paths
// =============================================================================

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateTenant checks that tenant is usable as a single path segment.
func ValidateTenant(tenant string) error {
	if tenant == "" {
		return fmt.Errorf("%w: tenant is required", ErrInvalidTenant)
	}
	if len(tenant) > 128 {
		return fmt.Errorf("%w: tenant %q is longer than 128 characters", ErrInvalidTenant, tenant)
	}
	if !tenantPattern.MatchString(tenant) {
		return fmt.Errorf("%w: %q may only contain letters, digits, '.', '_' and '-'", ErrInvalidTenant, tenant)
	}
	return nil
}

// CleanPath normalises a backend path: forward slashes, no leading slash,
// no "." or ".." segments. The backend root is "".
func CleanPath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// JoinPath joins backend path elements and cleans the result.
func JoinPath(elem ...string) string {
	return CleanPath(path.Join(elem...))
}
