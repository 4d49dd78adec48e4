package provider

import (
	"github.com/anthropics/anthropic-sdk-go"
)

// ToolDefinitions returns the tool schemas sent with every generation
// request. Names match the orchestrator's approval classification:
// delete_file is in the destructive set, write_file carries the
// overwrite flag its contextual predicate inspects.
func ToolDefinitions() []anthropic.ToolUnionParam {
	return []anthropic.ToolUnionParam{
		{
			OfTool: &anthropic.ToolParam{
				Name:        "read_file",
				Description: anthropic.String("Read a file from the project. Returns file contents with line numbers."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"path": map[string]interface{}{
							"type":        "string",
							"description": "Path to the file to read, relative to the project root",
						},
						"offset": map[string]interface{}{
							"type":        "integer",
							"description": "Line number to start reading from (1-indexed, optional)",
						},
						"limit": map[string]interface{}{
							"type":        "integer",
							"description": "Maximum number of lines to read (optional)",
						},
					},
					Required: []string{"path"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "write_file",
				Description: anthropic.String("Write content to a file. Creates parent directories if needed. Set overwrite=true to replace an existing file."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"path": map[string]interface{}{
							"type":        "string",
							"description": "Path to the file to write",
						},
						"content": map[string]interface{}{
							"type":        "string",
							"description": "Content to write to the file",
						},
						"overwrite": map[string]interface{}{
							"type":        "boolean",
							"description": "Must be true to replace a file that already exists",
						},
					},
					Required: []string{"path", "content"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "edit_file",
				Description: anthropic.String("Edit a file by replacing text. The old_string must be unique unless replace_all is true."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"path": map[string]interface{}{
							"type":        "string",
							"description": "Path to the file to edit",
						},
						"old_string": map[string]interface{}{
							"type":        "string",
							"description": "The exact text to find and replace",
						},
						"new_string": map[string]interface{}{
							"type":        "string",
							"description": "The text to replace it with",
						},
						"replace_all": map[string]interface{}{
							"type":        "boolean",
							"description": "If true, replace all occurrences (default: false)",
						},
					},
					Required: []string{"path", "old_string", "new_string"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "delete_file",
				Description: anthropic.String("Delete a file from the project. Requires human approval."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"path": map[string]interface{}{
							"type":        "string",
							"description": "Path to the file to delete",
						},
					},
					Required: []string{"path"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "run_command",
				Description: anthropic.String("Execute a shell command in the project directory and return the output."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"command": map[string]interface{}{
							"type":        "string",
							"description": "The shell command to execute",
						},
						"timeout": map[string]interface{}{
							"type":        "integer",
							"description": "Timeout in milliseconds (optional)",
						},
					},
					Required: []string{"command"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "list_files",
				Description: anthropic.String("List files under a directory, skipping hidden entries."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"path": map[string]interface{}{
							"type":        "string",
							"description": "Directory to list (optional, defaults to the project root)",
						},
					},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "search_text",
				Description: anthropic.String("Search project files for a substring and return matching lines."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"query": map[string]interface{}{
							"type":        "string",
							"description": "Substring to search for",
						},
						"path": map[string]interface{}{
							"type":        "string",
							"description": "Directory to search in (optional, defaults to the project root)",
						},
					},
					Required: []string{"query"},
				},
			},
		},
	}
}
