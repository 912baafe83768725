package main

import (
	"encoding/json"
	"strings"
	"text/template"

	units "github.com/docker/go-units"
)

var templateFuncs = template.FuncMap{
	"size": func(n int64) string {
		return units.HumanSize(float64(n))
	},
	"join": strings.Join,
}

func mustTemplate(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(templateFuncs).Parse(text))
}

var (
	mergeTemplate = mustTemplate("merge", `Tenant:     {{.Tenant}}
Run:        {{.RunID}}
Success:    {{.Success}}
Runtime:    {{.RuntimePath}}
Processed:  {{.Summary.FilesProcessed}} (base {{.Summary.FilesFromBase}}, custom {{.Summary.FilesFromCustom}}, overridden {{.Summary.FilesOverridden}}, failed {{.Summary.FilesFailed}})
{{- range .FailedFiles}}
  failed   {{.FileName}}: {{.Reason}}{{if .MovedToRework}} (moved to rework){{end}}
{{- end}}
{{- if .Snapshot}}
Snapshot:   {{.Snapshot.Version}} ({{.Snapshot.Files}} files, {{size .Snapshot.Bytes}})
{{- end}}
{{- if .Retention}}
Retention:  deleted {{len .Retention.Deleted}}, kept {{len .Retention.Kept}}
{{- end}}
{{- range .Warnings}}
  warning  {{.}}
{{- end}}
`)

	planTemplate = mustTemplate("plan", `{{range .Resolutions}}{{printf "%-6s" .Winner}} {{printf "%-8s" .Classification}} {{.Path}}
{{end}}{{.Summary.Total}} files: {{.Summary.Overrides}} overrides, {{.Summary.AddOns}} add-ons, {{.Summary.BaseOnly}} base only
`)

	runtimeTemplate = mustTemplate("runtime", `Tenant:     {{.Tenant}}
Path:       {{.Path}}{{if .LocalPath}} ({{.LocalPath}}){{end}}
Generated:  {{.Manifest.GeneratedAt.Format "2006-01-02T15:04:05Z07:00"}}
{{- if .Manifest.BaseVersion}}
Base:       {{.Manifest.BaseVersion}}
{{- end}}
Files:      {{len .Manifest.Files}}, failed {{len .Manifest.FailedFiles}}
{{- range .Manifest.Files}}
  {{printf "%-6s" .Source}} {{printf "%9s" (size .Size)}}  {{.Path}}
{{- end}}
`)

	reworkTemplate = mustTemplate("rework", `{{range .}}{{.Timestamp.Format "2006-01-02T15:04:05Z07:00"}}  {{.FileName}}: {{.Reason}}
{{else}}no files in rework
{{end}}`)

	snapshotsTemplate = mustTemplate("snapshots", `{{range .}}{{printf "%-28s" .Version}} {{.CreatedAt.Format "2006-01-02T15:04:05Z07:00"}}  {{printf "%5d" .Files}} files  {{size .Bytes}}
{{else}}no snapshots
{{end}}`)

	snapshotTemplate = mustTemplate("snapshot", `Version:    {{.Version}}
Base:       {{.BaseVersion}}
Increment:  {{.Increment}}
Path:       {{.Path}}
Created:    {{.CreatedAt.Format "2006-01-02T15:04:05Z07:00"}}
Files:      {{.Files}}
Size:       {{size .Bytes}}
{{- if .Digest}}
Digest:     {{.Digest}}
{{- end}}
`)

	retentionTemplate = mustTemplate("retention", `Deleted:    {{if .Deleted}}{{join .Deleted ", "}}{{else}}none{{end}}
Kept:       {{if .Kept}}{{join .Kept ", "}}{{else}}none{{end}}
{{- range .Warnings}}
  warning  {{.}}
{{- end}}
`)

	retentionPlanTemplate = mustTemplate("retention-plan", `{{range .}}{{if .Delete}}delete{{else}}keep  {{end}}  {{printf "%-28s" .Snapshot.Version}} {{join .Reasons ", "}}
{{else}}no snapshots
{{end}}`)

	tenantsTemplate = mustTemplate("tenants", `{{range .}}{{.}}
{{end}}`)
)

// render writes v as indented JSON or through tmpl.
func (a *app) render(tmpl *template.Template, v any) error {
	if a.output == "json" {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return tmpl.Execute(a.stdout, v)
}
