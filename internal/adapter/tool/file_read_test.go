package tool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fileArgs(t *testing.T, p fileReadParams) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileRead(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "notes.txt", "alpha\nbeta\ngamma\n")

	tool := NewFileReadTool([]string{dir}, 0, 0, nopLogger())
	res, err := tool.Execute(context.Background(), fileArgs(t, fileReadParams{Path: path}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if res.Content != "alpha\nbeta\ngamma" {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestFileReadLineRange(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "lines.txt", "l1\nl2\nl3\nl4\nl5\n")
	tool := NewFileReadTool([]string{dir}, 0, 0, nopLogger())

	cases := []struct {
		name       string
		start, end int
		want       string
	}{
		{"middle", 2, 4, "l2\nl3\nl4"},
		{"from start line", 4, 0, "l4\nl5"},
		{"to end line", 0, 2, "l1\nl2"},
		{"end past eof", 3, 99, "l3\nl4\nl5"},
		{"inverted range", 4, 2, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := tool.Execute(context.Background(), fileArgs(t, fileReadParams{
				Path:      path,
				StartLine: tc.start,
				EndLine:   tc.end,
			}))
			if err != nil {
				t.Fatal(err)
			}
			if res.IsError {
				t.Fatalf("unexpected error result: %s", res.Content)
			}
			if res.Content != tc.want {
				t.Errorf("Content = %q, want %q", res.Content, tc.want)
			}
		})
	}
}

func TestFileReadTruncatesLongFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "long.txt", "l1\nl2\nl3\nl4\nl5\n")

	tool := NewFileReadTool([]string{dir}, 0, 2, nopLogger())
	res, err := tool.Execute(context.Background(), fileArgs(t, fileReadParams{Path: path}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "l1\nl2\n... (truncated, showing first 2 lines)" {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestFileReadBadExtension(t *testing.T) {
	dir := t.TempDir()
	tool := NewFileReadTool([]string{dir}, 0, 0, nopLogger())
	res, err := tool.Execute(context.Background(), fileArgs(t, fileReadParams{Path: filepath.Join(dir, "app.exe")}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || res.Content != "file type not allowed: .exe" {
		t.Errorf("result = %+v", res)
	}
}

func TestFileReadOutsideAllowedDirs(t *testing.T) {
	allowed := t.TempDir()
	outside := t.TempDir()
	path := writeTestFile(t, outside, "secret.txt", "nope")

	tool := NewFileReadTool([]string{allowed}, 0, 0, nopLogger())
	res, err := tool.Execute(context.Background(), fileArgs(t, fileReadParams{Path: path}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || res.Content != "file is outside allowed directories" {
		t.Errorf("result = %+v", res)
	}
}

func TestFileReadSymlinkEscape(t *testing.T) {
	allowed := t.TempDir()
	outside := t.TempDir()
	secret := writeTestFile(t, outside, "secret.txt", "nope")

	link := filepath.Join(allowed, "link.txt")
	if err := os.Symlink(secret, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	tool := NewFileReadTool([]string{allowed}, 0, 0, nopLogger())
	res, err := tool.Execute(context.Background(), fileArgs(t, fileReadParams{Path: link}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || res.Content != "file is outside allowed directories" {
		t.Errorf("result = %+v", res)
	}
}

func TestFileReadEmptyAllowlistAdmitsAll(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "open.txt", "fine\n")

	tool := NewFileReadTool(nil, 0, 0, nopLogger())
	res, err := tool.Execute(context.Background(), fileArgs(t, fileReadParams{Path: path}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError || res.Content != "fine" {
		t.Errorf("result = %+v", res)
	}
}

func TestFileReadTooLarge(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "big.txt", strings.Repeat("x", 64))

	tool := NewFileReadTool([]string{dir}, 10, 0, nopLogger())
	res, err := tool.Execute(context.Background(), fileArgs(t, fileReadParams{Path: path}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || res.Content != "file too large: 64 bytes (max 10)" {
		t.Errorf("result = %+v", res)
	}
}

func TestFileReadNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ghost.txt")

	tool := NewFileReadTool([]string{dir}, 0, 0, nopLogger())
	res, err := tool.Execute(context.Background(), fileArgs(t, fileReadParams{Path: path}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "file not found") {
		t.Errorf("result = %+v", res)
	}
}

func TestFileReadDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "d.txt")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	tool := NewFileReadTool([]string{dir}, 0, 0, nopLogger())
	res, err := tool.Execute(context.Background(), fileArgs(t, fileReadParams{Path: sub}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "path is a directory") {
		t.Errorf("result = %+v", res)
	}
}

func TestFileReadRejectsBinary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bin.txt")
	if err := os.WriteFile(path, []byte{0xff, 0xfe, 0x00, 0x41}, 0o644); err != nil {
		t.Fatal(err)
	}

	tool := NewFileReadTool([]string{dir}, 0, 0, nopLogger())
	res, err := tool.Execute(context.Background(), fileArgs(t, fileReadParams{Path: path}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || res.Content != "file is not valid UTF-8 text" {
		t.Errorf("result = %+v", res)
	}
}

func TestFileReadMissingPath(t *testing.T) {
	tool := NewFileReadTool(nil, 0, 0, nopLogger())
	res, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || res.Content != "'path' is required" {
		t.Errorf("result = %+v", res)
	}
}
