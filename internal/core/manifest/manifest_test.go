package manifest

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/layerpack/internal/core/domain"
)

var generatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleResult() *domain.MergeResult {
	r := domain.NewMergeResult("run-1", "acme", generatedAt)
	r.BaseVersion = "1.2.0"
	r.Summary = domain.MergeSummary{
		FilesProcessed:  4,
		FilesFromBase:   1,
		FilesFromCustom: 2,
		FilesOverridden: 1,
		FilesFailed:     1,
	}
	r.FailedFiles = append(r.FailedFiles, domain.FailedFile{
		FileName:      "config.json",
		Reason:        "invalid JSON: unexpected end of JSON input",
		MovedToRework: true,
	})
	return r
}

func sampleFiles() []FileRecord {
	// Deliberately unsorted.
	return []FileRecord{
		NewFileRecord(domain.Resolution{Path: "app/settings.env", Winner: domain.WinnerCustom, Classification: domain.ClassAddOnly}, []byte("LOG_LEVEL=info\n")),
		NewFileRecord(domain.Resolution{Path: "Dockerfile", Winner: domain.WinnerBase, Classification: domain.ClassBaseOnly}, []byte("FROM alpine:3.20\n")),
		NewFileRecord(domain.Resolution{Path: "app/config.json", Winner: domain.WinnerCustom, Classification: domain.ClassOverride}, []byte("{\"name\": \"acme\"}\n")),
	}
}

func TestBuild_Golden(t *testing.T) {
	m := Build(sampleResult(), sampleFiles(), generatedAt)

	data, err := m.Marshal()
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "runtime_manifest", data)
}

func TestBuild_OmitsRunID(t *testing.T) {
	data, err := Build(sampleResult(), nil, generatedAt).Marshal()
	require.NoError(t, err)

	assert.NotContains(t, string(data), "run-1")
	assert.Contains(t, string(data), `"files": []`)
}

func TestBuild_OnlyGeneratedAtVaries(t *testing.T) {
	a, err := Build(sampleResult(), sampleFiles(), generatedAt).Marshal()
	require.NoError(t, err)
	b, err := Build(sampleResult(), sampleFiles(), generatedAt).Marshal()
	require.NoError(t, err)

	assert.Equal(t, a, b)

	later, err := Build(sampleResult(), sampleFiles(), generatedAt.Add(time.Hour)).Marshal()
	require.NoError(t, err)
	assert.NotEqual(t, a, later)
}

func TestParse_RoundTrip(t *testing.T) {
	data, err := Build(sampleResult(), sampleFiles(), generatedAt).Marshal()
	require.NoError(t, err)

	m, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "acme", m.Tenant)
	assert.True(t, m.Summary.Balanced())
	require.Len(t, m.Files, 3)
	assert.Equal(t, "Dockerfile", m.Files[0].Path)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("{"))
	assert.Error(t, err)
}

func TestErrorReport(t *testing.T) {
	ts := time.Date(2026, 3, 1, 13, 0, 0, 0, time.FixedZone("CET", 3600))
	data, err := MarshalErrorReport(domain.ErrorReport{
		FileName:     "config.json",
		OriginalPath: "acme/customadhoc/config.json",
		Reason:       "invalid JSON",
		Timestamp:    ts,
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"timestamp": "2026-03-01T12:00:00Z"`)

	r, err := ParseErrorReport(data)
	require.NoError(t, err)
	assert.Equal(t, "config.json", r.FileName)
	assert.True(t, r.Timestamp.Equal(ts))
}

func TestDigest(t *testing.T) {
	assert.Equal(t, DigestPrefix+"0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8", Digest(nil))
	assert.NotEqual(t, Digest([]byte("a")), Digest([]byte("b")))
}

func TestTreeDigest(t *testing.T) {
	a := TreeDigest(map[string]string{"x": Digest([]byte("1")), "y": Digest([]byte("2"))})
	b := TreeDigest(map[string]string{"y": Digest([]byte("2")), "x": Digest([]byte("1"))})
	c := TreeDigest(map[string]string{"x": Digest([]byte("2")), "y": Digest([]byte("1"))})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
