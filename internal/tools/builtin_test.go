package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestReadFileToolReadsRelativePath(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tool := &ReadFileTool{Workspace: dir}
	args, _ := json.Marshal(map[string]string{"path": "hello.txt"})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success || result.Output != "hello world" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestReadFileToolMissingFile(t *testing.T) {
	tool := &ReadFileTool{Workspace: t.TempDir()}
	args, _ := json.Marshal(map[string]string{"path": "missing.txt"})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure for missing file")
	}
}

func TestListDirToolDistinguishesDirs(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "file.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tool := &ListDirTool{Workspace: dir}
	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success: %+v", result)
	}
	if !contains(result.Output, "sub/") || !contains(result.Output, "file.txt") {
		t.Fatalf("unexpected listing: %q", result.Output)
	}
}

func TestShellToolRejectsDisallowedCommand(t *testing.T) {
	tool := NewShellTool(t.TempDir())
	args, _ := json.Marshal(map[string]string{"command": "curl http://example.com"})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatalf("expected disallowed command to fail")
	}
}

func TestShellToolRunsAllowedCommand(t *testing.T) {
	tool := NewShellTool(t.TempDir())
	args, _ := json.Marshal(map[string]string{"command": "echo hello"})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success || !contains(result.Output, "hello") {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
