package domain

// =============================================================================
// Layers
// =============================================================================

// Layer names one of the four trees the engine works with.
type Layer string

const (
	LayerBase    Layer = "base"
	LayerCustom  Layer = "custom"
	LayerRuntime Layer = "runtime"
	LayerRework  Layer = "rework"
)

// =============================================================================
// File Index
// =============================================================================

// FileEntry is one file found under a layer root.
// RelativePath is the union key across layers: two entries with equal
// RelativePath from different layers are the same logical file.
type FileEntry struct {
	RelativePath string `json:"relativePath"`
	Location     string `json:"location"`
}

// Index maps a path relative to a layer root to the file's location in the
// storage backend.
type Index map[string]string

// Entries returns the index as a slice of FileEntry, in no particular order.
func (idx Index) Entries() []FileEntry {
	entries := make([]FileEntry, 0, len(idx))
	for rel, loc := range idx {
		entries = append(entries, FileEntry{RelativePath: rel, Location: loc})
	}
	return entries
}

// =============================================================================
// Resolution
// =============================================================================

// Winner identifies which layer supplies a path's content.
type Winner string

const (
	WinnerBase   Winner = "base"
	WinnerCustom Winner = "custom"
)

// Classification describes why a layer won.
type Classification string

const (
	// ClassOverride means the path exists in both layers and CUSTOM wins.
	ClassOverride Classification = "override"
	// ClassAddOnly means the path exists only in CUSTOM.
	ClassAddOnly Classification = "addOnly"
	// ClassBaseOnly means the path exists only in BASE.
	ClassBaseOnly Classification = "baseOnly"
)

// Resolution is the decision for one path in the union of BASE and CUSTOM.
type Resolution struct {
	Path           string         `json:"path"`
	Winner         Winner         `json:"winner"`
	Classification Classification `json:"classification"`
	Location       string         `json:"location"`
}
