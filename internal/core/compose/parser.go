package compose

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// composeFileNames are the file names Docker Compose picks up by default.
var composeFileNames = map[string]bool{
	"compose.yaml":        true,
	"compose.yml":         true,
	"docker-compose.yaml": true,
	"docker-compose.yml":  true,
}

// IsComposeFile reports whether relativePath names a primary Compose file.
// Override files (docker-compose.override.yml, ...) are partial by design
// and are not matched.
func IsComposeFile(relativePath string) bool {
	return composeFileNames[strings.ToLower(path.Base(relativePath))]
}

// =============================================================================
// Check
// =============================================================================

// Check loads content as a Compose project and verifies that it is usable:
// valid YAML, at least one service, every service has an image or a build
// section, and no dependency cycles.
// This is a pure function - no I/O, no side effects.
func Check(content []byte) error {
	project, err := loadProject(content)
	if err != nil {
		return err
	}

	if len(project.Services) == 0 {
		return ErrNoServices
	}

	names := make([]string, 0, len(project.Services))
	for name := range project.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		svc := project.Services[name]
		if svc.Image == "" && svc.Build == nil {
			return NewCheckError("services."+name, "service must have image or build", ErrServiceNoImage)
		}
		for i, port := range svc.Ports {
			if port.Target == 0 || port.Target > 65535 {
				return NewCheckError(
					fmt.Sprintf("services.%s.ports[%d]", name, i),
					"target port must be between 1 and 65535",
					ErrServiceInvalidPort,
				)
			}
		}
	}

	return detectCircularDependencies(project.Services, names)
}

// detectCircularDependencies walks depends_on edges looking for a cycle.
func detectCircularDependencies(services types.Services, names []string) error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var hasCycle func(node string) bool
	hasCycle = func(node string) bool {
		visited[node] = true
		recStack[node] = true

		deps := make([]string, 0, len(services[node].DependsOn))
		for dep := range services[node].DependsOn {
			deps = append(deps, dep)
		}
		sort.Strings(deps)

		for _, dep := range deps {
			if dep == node {
				return true
			}
			if !visited[dep] {
				if hasCycle(dep) {
					return true
				}
			} else if recStack[dep] {
				return true
			}
		}

		recStack[node] = false
		return false
	}

	for _, name := range names {
		if !visited[name] && hasCycle(name) {
			return NewCheckError("services."+name, "circular dependency detected", ErrCircularDependency)
		}
	}
	return nil
}

// loadProject loads a compose file using compose-go without touching the
// filesystem.
func loadProject(content []byte) (*types.Project, error) {
	// Parse YAML into a map first
	var dict map[string]interface{}
	if err := yaml.Unmarshal(content, &dict); err != nil {
		return nil, NewCheckError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewCheckError("", "compose file is empty", ErrNoServices)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: content,
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("layerpack-check", false)
		opts.SkipValidation = false
		opts.SkipInterpolation = false
		// Nothing is resolved against the local filesystem
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "dependency cycle detected") {
			return nil, NewCheckError("", "circular dependency detected", ErrCircularDependency)
		}
		if strings.Contains(errStr, "image") && strings.Contains(errStr, "build") {
			return nil, NewCheckError("", "service must have image or build", ErrServiceNoImage)
		}
		return nil, NewCheckError("", errStr, ErrInvalidYAML)
	}

	return project, nil
}
