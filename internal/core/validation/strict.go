package validation

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/artpar/layerpack/internal/core/compose"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// strictChecks runs the full parsers. It only reports problems the base
// rules cannot see, so an empty or separator-less file is not reported twice.
func strictChecks(relativePath, base string, content []byte) []string {
	if len(strings.TrimSpace(string(content))) == 0 {
		return nil
	}

	var errs []string
	switch {
	case hasExt(".yml", ".yaml")(base):
		if err := checkYAMLDocuments(content); err != nil {
			errs = append(errs, err.Error())
		} else if compose.IsComposeFile(relativePath) {
			if err := compose.Check(content); err != nil {
				errs = append(errs, fmt.Sprintf("invalid compose file: %v", err))
			}
		}
	case hasExt(".toml")(base):
		var v map[string]any
		if err := toml.Unmarshal(content, &v); err != nil {
			errs = append(errs, fmt.Sprintf("invalid TOML: %v", err))
		}
	case isEnvFile(base):
		if _, err := godotenv.Unmarshal(string(content)); err != nil {
			errs = append(errs, fmt.Sprintf("invalid env file: %v", err))
		}
	}
	return errs
}

// checkYAMLDocuments decodes every document in a YAML stream.
func checkYAMLDocuments(content []byte) error {
	dec := yaml.NewDecoder(strings.NewReader(string(content)))
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid YAML: %v", err)
	}
}
