package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxIncludeDepth = 10

// processIncludes merges config files referenced by cfg.Includes into cfg.
// baseDir is the directory of the file that declared the includes; visited
// tracks absolute paths to reject circular includes.
func processIncludes(cfg *Config, baseDir string, visited map[string]bool, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}
	if visited == nil {
		visited = make(map[string]bool)
	}

	pending := cfg.Includes
	cfg.Includes = nil

	for _, pattern := range pending {
		paths, err := expandIncludePattern(pattern, baseDir)
		if err != nil {
			return err
		}
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return fmt.Errorf("config includes: abs path %q: %w", p, err)
			}
			if visited[abs] {
				return fmt.Errorf("config includes: circular include detected for %q", abs)
			}
			visited[abs] = true

			if err := overlayFile(cfg, abs, visited, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// expandIncludePattern resolves a pattern (possibly containing globs)
// relative to baseDir, rejecting paths that escape the config directory.
func expandIncludePattern(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}
	pattern = filepath.Clean(pattern)

	if rel, err := filepath.Rel(baseDir, pattern); err == nil && strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("config includes: path %q escapes config directory", pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	if len(matches) > 0 {
		return matches, nil
	}

	// A literal path with no matches falls through to overlayFile, which
	// reports file-not-found. A glob matching nothing is not an error.
	if !strings.ContainsAny(pattern, "*?[") {
		return []string{pattern}, nil
	}
	return nil, nil
}

// overlayFile reads one YAML file and unmarshals it over cfg, then
// recurses into any includes the file itself declares.
func overlayFile(cfg *Config, path string, visited map[string]bool, depth int) error {
	if err := validatePermissions(path); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config includes: read %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}

	cfg.Includes = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config includes: parse %q: %w", path, err)
	}

	if len(cfg.Includes) > 0 {
		if err := processIncludes(cfg, filepath.Dir(path), visited, depth); err != nil {
			return err
		}
	}
	return nil
}
