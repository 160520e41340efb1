package patch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Payload is the normalized form of a raw-diff change: either a unified diff
// or JSON-wrapped per-file content.
type Payload struct {
	Raw     string
	Wrapped bool
	Files   map[string]string
}

// parsePayload detects JSON-wrapped per-file content. Anything that fails to
// parse as a JSON object of file contents is treated as an ordinary diff.
func parsePayload(diff string) Payload {
	trimmed := strings.TrimSpace(diff)
	if strings.HasPrefix(trimmed, "{") {
		var files map[string]string
		if err := json.Unmarshal([]byte(trimmed), &files); err == nil && len(files) > 0 {
			return Payload{Raw: diff, Wrapped: true, Files: files}
		}
	}
	return Payload{Raw: diff}
}

// Paths lists the file paths the payload names, sorted for wrapped content
// and in diff order otherwise.
func (p Payload) Paths() []string {
	if p.Wrapped {
		paths := make([]string, 0, len(p.Files))
		for name := range p.Files {
			paths = append(paths, name)
		}
		sort.Strings(paths)
		return paths
	}
	return diffPaths(p.Raw)
}

// diffPaths extracts target paths from unified-diff headers.
func diffPaths(diff string) []string {
	var paths []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(strings.NewReader(diff))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "diff --git ") {
			parts := strings.Fields(line)
			if len(parts) >= 4 {
				path := strings.TrimPrefix(parts[3], "b/")
				if _, ok := seen[path]; !ok {
					seen[path] = struct{}{}
					paths = append(paths, path)
				}
			}
		}
	}
	return paths
}

// validatePayload runs structured-data validation over a wrapped payload.
// Compose manifests get the compose validator; generic structured-data
// extensions get the syntax validator. The first invalid file aborts.
func validatePayload(p Payload) error {
	for _, name := range p.Paths() {
		content := p.Files[name]
		switch {
		case isComposeManifest(name):
			if err := validateCompose(content); err != nil {
				return err
			}
		case hasStructuredExt(name):
			if err := validateStructured(name, content); err != nil {
				return err
			}
		}
	}
	return nil
}

func isComposeManifest(name string) bool {
	base := filepath.Base(name)
	switch base {
	case "docker-compose.yml", "docker-compose.yaml", "compose.yml", "compose.yaml":
		return true
	}
	return (strings.HasPrefix(base, "docker-compose.") || strings.HasPrefix(base, "compose.")) &&
		(strings.HasSuffix(base, ".yml") || strings.HasSuffix(base, ".yaml"))
}

func hasStructuredExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yml", ".yaml", ".json":
		return true
	}
	return false
}

// validateCompose checks YAML syntax first, then the minimal compose shape.
func validateCompose(content string) error {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return fmt.Errorf("YAML validation failed: %v", err)
	}
	services, ok := doc["services"]
	if !ok {
		return fmt.Errorf("compose validation failed: missing top-level services")
	}
	if _, ok := services.(map[string]any); !ok {
		return fmt.Errorf("compose validation failed: services must be a mapping")
	}
	return nil
}

// validateStructured checks syntax for generic structured-data files.
func validateStructured(name, content string) error {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		if !json.Valid([]byte(content)) {
			return fmt.Errorf("JSON validation failed: %s is not valid JSON", name)
		}
	case ".yml", ".yaml":
		var doc any
		if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
			return fmt.Errorf("YAML validation failed: %v", err)
		}
	}
	return nil
}
