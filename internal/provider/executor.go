package provider

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/calder-ai/rudder/pkg/models"
)

// ToolExecutor executes tool calls requested by the model against the
// project working directory.
type ToolExecutor struct {
	workDir string
}

// NewToolExecutor creates a tool executor rooted at workDir.
func NewToolExecutor(workDir string) *ToolExecutor {
	return &ToolExecutor{workDir: workDir}
}

// Task wraps a model tool call as a dispatchable ToolTask. The input
// snapshot rides along for approval classification.
func (e *ToolExecutor) Task(call ToolCall) models.ToolTask {
	return models.ToolTask{
		Name:  call.Name,
		Input: call.Input,
		Run: func(ctx context.Context) (any, error) {
			return e.Execute(ctx, call.Name, call.Input)
		},
	}
}

// Execute runs a tool by name with the given decoded input.
func (e *ToolExecutor) Execute(ctx context.Context, name string, input map[string]any) (string, error) {
	switch name {
	case "read_file":
		return e.execRead(input)
	case "write_file":
		return e.execWrite(input)
	case "edit_file":
		return e.execEdit(input)
	case "delete_file":
		return e.execDelete(input)
	case "run_command":
		return e.execCommand(ctx, input)
	case "list_files":
		return e.execListFiles(input)
	case "search_text":
		return e.execSearch(input)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

func (e *ToolExecutor) execRead(input map[string]any) (string, error) {
	path := strParam(input, "path")
	if path == "" {
		return "", fmt.Errorf("read_file: path is required")
	}

	content, err := os.ReadFile(e.resolvePath(path))
	if err != nil {
		return "", fmt.Errorf("read_file: %w", err)
	}

	lines := strings.Split(string(content), "\n")

	start := 0
	if offset := intParam(input, "offset"); offset > 0 {
		start = offset - 1
		if start >= len(lines) {
			return "", fmt.Errorf("read_file: offset beyond end of file")
		}
	}

	end := len(lines)
	if limit := intParam(input, "limit"); limit > 0 && start+limit < end {
		end = start + limit
	}

	var result strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&result, "%6d\t%s\n", i+1, lines[i])
	}
	return result.String(), nil
}

func (e *ToolExecutor) execWrite(input map[string]any) (string, error) {
	path := strParam(input, "path")
	content := strParam(input, "content")
	if path == "" {
		return "", fmt.Errorf("write_file: path is required")
	}

	abs := e.resolvePath(path)
	if _, err := os.Stat(abs); err == nil && !boolParam(input, "overwrite") {
		return "", fmt.Errorf("write_file: %s exists; set overwrite=true to replace it", path)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", fmt.Errorf("write_file: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write_file: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

func (e *ToolExecutor) execEdit(input map[string]any) (string, error) {
	path := strParam(input, "path")
	oldString := strParam(input, "old_string")
	newString := strParam(input, "new_string")
	replaceAll := boolParam(input, "replace_all")
	if path == "" || oldString == "" {
		return "", fmt.Errorf("edit_file: path and old_string are required")
	}

	abs := e.resolvePath(path)
	content, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("edit_file: %w", err)
	}

	contentStr := string(content)
	count := strings.Count(contentStr, oldString)
	if count == 0 {
		return "", fmt.Errorf("edit_file: old_string not found in %s", path)
	}
	if !replaceAll && count > 1 {
		return "", fmt.Errorf("edit_file: old_string found %d times; must be unique or use replace_all=true", count)
	}

	var newContent string
	if replaceAll {
		newContent = strings.ReplaceAll(contentStr, oldString, newString)
	} else {
		newContent = strings.Replace(contentStr, oldString, newString, 1)
	}
	if err := os.WriteFile(abs, []byte(newContent), 0644); err != nil {
		return "", fmt.Errorf("edit_file: %w", err)
	}

	if replaceAll {
		return fmt.Sprintf("replaced %d occurrences in %s", count, path), nil
	}
	return fmt.Sprintf("edited %s", path), nil
}

func (e *ToolExecutor) execDelete(input map[string]any) (string, error) {
	path := strParam(input, "path")
	if path == "" {
		return "", fmt.Errorf("delete_file: path is required")
	}
	if err := os.Remove(e.resolvePath(path)); err != nil {
		return "", fmt.Errorf("delete_file: %w", err)
	}
	return fmt.Sprintf("deleted %s", path), nil
}

func (e *ToolExecutor) execCommand(ctx context.Context, input map[string]any) (string, error) {
	command := strParam(input, "command")
	if command == "" {
		return "", fmt.Errorf("run_command: command is required")
	}

	timeout := 2 * time.Minute
	if ms := intParam(input, "timeout"); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = e.workDir

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("run_command: timed out after %v:\n%s", timeout, output)
		}
		return "", fmt.Errorf("run_command: %w\n%s", err, output)
	}
	return string(output), nil
}

func (e *ToolExecutor) execListFiles(input map[string]any) (string, error) {
	root := e.workDir
	if path := strParam(input, "path"); path != "" {
		root = e.resolvePath(path)
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("list_files: %w", err)
	}
	if len(files) == 0 {
		return "no files found", nil
	}
	return strings.Join(files, "\n"), nil
}

func (e *ToolExecutor) execSearch(input map[string]any) (string, error) {
	query := strParam(input, "query")
	if query == "" {
		return "", fmt.Errorf("search_text: query is required")
	}
	root := e.workDir
	if path := strParam(input, "path"); path != "" {
		root = e.resolvePath(path)
	}

	var matches []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			if d != nil && d.IsDir() && strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		for i, line := range strings.Split(string(content), "\n") {
			if strings.Contains(line, query) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("search_text: %w", err)
	}
	if len(matches) == 0 {
		return "no matches", nil
	}
	return strings.Join(matches, "\n"), nil
}

// resolvePath makes a path absolute relative to the working directory.
func (e *ToolExecutor) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.workDir, path)
}

func strParam(input map[string]any, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

func intParam(input map[string]any, key string) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func boolParam(input map[string]any, key string) bool {
	v, _ := input[key].(bool)
	return v
}
