package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/artpar/layerpack/internal/core/domain"
)

// =============================================================================
// Options
// =============================================================================

// Options tunes validation.
type Options struct {
	// Strict adds full parsers for YAML, TOML, dotenv and Compose files.
	Strict bool
}

// =============================================================================
// Rules
// =============================================================================

// rule is one file-type check. match receives the lower-cased base name.
type rule struct {
	name  string
	match func(base string) bool
	check func(content []byte) []string
}

func hasExt(exts ...string) func(string) bool {
	return func(base string) bool {
		for _, ext := range exts {
			if strings.HasSuffix(base, ext) {
				return true
			}
		}
		return false
	}
}

func isEnvFile(base string) bool {
	return base == ".env" || strings.HasSuffix(base, ".env")
}

func isDockerfile(base string) bool {
	return base == "dockerfile" || strings.HasSuffix(base, ".dockerfile")
}

var baseRules = []rule{
	{name: "json", match: hasExt(".json"), check: checkJSON},
	{name: "yaml", match: hasExt(".yml", ".yaml"), check: checkYAML},
	{name: "env", match: isEnvFile, check: checkEnv},
	{name: "sql", match: hasExt(".sql"), check: checkSQL},
	{name: "dockerfile", match: isDockerfile, check: checkDockerfile},
}

// =============================================================================
// Validate
// =============================================================================

// Validate applies the default rules to one file.
//
// Example:
//
//	r := Validate("config.json", []byte("{not json"))
//	// r.IsValid == false, r.Errors[0] starts with "invalid JSON"
func Validate(relativePath string, content []byte) domain.ValidationResult {
	return ValidateWith(relativePath, content, Options{})
}

// ValidateWith applies the default rules and, if opts.Strict is set, the
// strict parsers. All failures are collected.
func ValidateWith(relativePath string, content []byte, opts Options) domain.ValidationResult {
	var errs []string

	if len(content) == 0 {
		errs = append(errs, "file is empty")
	}

	base := strings.ToLower(path.Base(relativePath))
	for _, r := range baseRules {
		if r.match(base) {
			errs = append(errs, r.check(content)...)
		}
	}

	if opts.Strict {
		errs = append(errs, strictChecks(relativePath, base, content)...)
	}

	return domain.ValidationResult{
		IsValid: len(errs) == 0,
		Errors:  errs,
	}
}

// =============================================================================
// Checks
// =============================================================================

func checkJSON(content []byte) []string {
	var v any
	if err := json.Unmarshal(content, &v); err != nil {
		return []string{fmt.Sprintf("invalid JSON: %v", err)}
	}
	return nil
}

func checkYAML(content []byte) []string {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return []string{"YAML content is empty"}
	}
	if !bytes.Contains(trimmed, []byte(":")) {
		return []string{"YAML content has no key/value separator ':'"}
	}
	return nil
}

func checkEnv(content []byte) []string {
	var errs []string
	for i, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.Contains(line, "=") {
			errs = append(errs, fmt.Sprintf("line %d: missing '=' in %q", i+1, line))
		}
	}
	return errs
}

func checkSQL(content []byte) []string {
	if len(bytes.TrimSpace(content)) == 0 {
		return []string{"SQL content is empty"}
	}
	return nil
}

func checkDockerfile(content []byte) []string {
	if !bytes.Contains(content, []byte("FROM")) {
		return []string{"Dockerfile has no FROM instruction"}
	}
	return nil
}
