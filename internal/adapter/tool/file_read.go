package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"

	"maestro/internal/domain"
)

const (
	defaultMaxFileSize = 1 * 1024 * 1024
	defaultMaxLines    = 500
)

// allowedExtensions lists file types the read tool will open. Everything
// else is refused regardless of directory.
var allowedExtensions = map[string]bool{
	".txt": true, ".md": true, ".py": true, ".js": true, ".ts": true,
	".json": true, ".yaml": true, ".yml": true,
	".html": true, ".css": true, ".xml": true, ".csv": true, ".log": true,
	".sh": true, ".bash": true,
	".go": true, ".rs": true, ".java": true, ".c": true, ".cpp": true,
	".h": true, ".hpp": true,
	".sql": true, ".graphql": true, ".toml": true, ".ini": true,
	".cfg": true, ".conf": true,
}

// FileReadTool reads text files, restricted by extension, directory
// allowlist, size and line count.
type FileReadTool struct {
	allowedDirs []string
	maxFileSize int64
	maxLines    int
	logger      *slog.Logger
}

// NewFileReadTool creates a file reading tool. Allowed directories are
// resolved to absolute paths up front; an empty list disables the
// directory restriction. Zero size and line limits select the defaults.
func NewFileReadTool(allowedDirs []string, maxFileSize int64, maxLines int, logger *slog.Logger) *FileReadTool {
	if maxFileSize <= 0 {
		maxFileSize = defaultMaxFileSize
	}
	if maxLines <= 0 {
		maxLines = defaultMaxLines
	}

	resolved := make([]string, 0, len(allowedDirs))
	for _, dir := range allowedDirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if real, err := filepath.EvalSymlinks(abs); err == nil {
			abs = real
		}
		resolved = append(resolved, abs)
	}

	return &FileReadTool{
		allowedDirs: resolved,
		maxFileSize: maxFileSize,
		maxLines:    maxLines,
		logger:      logger,
	}
}

func (t *FileReadTool) Name() string        { return "file_read" }
func (t *FileReadTool) Description() string { return "Read the contents of a file" }

func (t *FileReadTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Path to the file to read"},
				"start_line": {"type": "integer", "minimum": 1, "description": "Starting line number (1-based, optional)"},
				"end_line": {"type": "integer", "minimum": 1, "description": "Ending line number (inclusive, optional)"}
			},
			"required": ["path"],
			"additionalProperties": false
		}`),
	}
}

type fileReadParams struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

func (t *FileReadTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.file_read", t.logger, params,
		func(_ context.Context, span trace.Span, p fileReadParams) (any, error) {
			if err := RequireField("path", p.Path); err != nil {
				return nil, err
			}

			abs, err := filepath.Abs(p.Path)
			if err != nil {
				return nil, fmt.Errorf("invalid path: %v", err)
			}

			ext := strings.ToLower(filepath.Ext(abs))
			if !allowedExtensions[ext] {
				return nil, fmt.Errorf("file type not allowed: %s", ext)
			}

			// Containment is checked against the symlink-resolved path so a
			// link inside an allowed directory cannot point outside it.
			target := abs
			if real, err := filepath.EvalSymlinks(abs); err == nil {
				target = real
			}
			if !t.dirAllowed(target) {
				return nil, fmt.Errorf("file is outside allowed directories")
			}

			info, err := os.Stat(abs)
			if err != nil {
				if os.IsNotExist(err) {
					return nil, fmt.Errorf("file not found: %s", p.Path)
				}
				return nil, fmt.Errorf("stat file: %v", err)
			}
			if info.IsDir() {
				return nil, fmt.Errorf("path is a directory: %s", p.Path)
			}
			if info.Size() > t.maxFileSize {
				return nil, fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), t.maxFileSize)
			}

			data, err := os.ReadFile(abs)
			if err != nil {
				return nil, fmt.Errorf("read file: %v", err)
			}
			if !utf8.Valid(data) {
				return nil, fmt.Errorf("file is not valid UTF-8 text")
			}

			lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
			if p.StartLine > 0 || p.EndLine > 0 {
				lines = sliceLines(lines, p.StartLine, p.EndLine)
			}
			if len(lines) > t.maxLines {
				lines = lines[:t.maxLines]
				lines = append(lines, fmt.Sprintf("... (truncated, showing first %d lines)", t.maxLines))
			}

			t.logger.Debug("file read", "path", abs, "lines", len(lines))
			return TextResult(strings.Join(lines, "\n")), nil
		},
	)
}

// dirAllowed reports whether target lies under one of the allowed
// directories. An empty allowlist admits every path.
func (t *FileReadTool) dirAllowed(target string) bool {
	if len(t.allowedDirs) == 0 {
		return true
	}
	for _, dir := range t.allowedDirs {
		rel, err := filepath.Rel(dir, target)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// sliceLines applies a 1-based inclusive line range, clamped to the file.
func sliceLines(lines []string, start, end int) []string {
	if start < 1 {
		start = 1
	}
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return nil
	}
	return lines[start-1 : end]
}
