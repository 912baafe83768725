// Package validation provides the per-file structural checks applied during
// composition.
//
// This package is part of the functional core: every function is pure (no
// I/O, no side effects) and works on a relative path and a byte buffer, so
// it can be tested without a storage backend.
//
// # Rules
//
// All applicable rules run and every failure is collected:
//
//   - any file: content must not be empty
//   - *.json: content must parse as JSON
//   - *.yml, *.yaml: trimmed content is non-empty and contains ':'
//   - .env, *.env: every non-blank, non-comment line contains '='
//   - *.sql: trimmed content is non-empty
//   - Dockerfile, *.dockerfile: content contains FROM
//
// Files matching no rule are valid unless empty.
//
// # Strict mode
//
// Options{Strict: true} adds real parsers on top of the rules above: YAML
// documents are decoded with yaml.v3, TOML with go-toml, dotenv files with
// godotenv and primary Compose files are loaded with compose-go.
//
// # Usage
//
//	result := validation.Validate("config/app.json", content)
//	if !result.IsValid {
//	    // quarantine with result.Reason()
//	}
package validation
