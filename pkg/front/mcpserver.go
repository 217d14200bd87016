package front

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/crucible-dev/crucible/pkg/validate"
)

// MCPServer exposes the dispatch table over the Model Context
// Protocol on stdio.
type MCPServer struct {
	server     *mcpsdk.Server
	dispatcher *Dispatcher
}

// NewMCPServer registers every dispatcher tool on a fresh MCP server.
func NewMCPServer(d *Dispatcher, version string) *MCPServer {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "crucible",
		Version: version,
	}, nil)

	for _, tool := range d.Tools() {
		tool := tool
		server.AddTool(&mcpsdk.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: inputSchema(tool.Schema),
		}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			var args map[string]any
			if len(req.Params.Arguments) > 0 {
				if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
					return &mcpsdk.CallToolResult{
						Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "malformed arguments: " + err.Error()}},
						IsError: true,
					}, nil
				}
			}
			// Stdio carries no transport credentials; the call runs
			// as the local operator.
			result := d.Call(ctx, tool.Name, args, Meta{})
			return toSDKResult(result), nil
		})
	}

	return &MCPServer{server: server, dispatcher: d}
}

// Run serves MCP over stdio until the context is cancelled.
func (s *MCPServer) Run(ctx context.Context) error {
	slog.Info("MCP server listening on stdio")
	return s.server.Run(ctx, &mcpsdk.StdioTransport{})
}

func toSDKResult(result *CallResult) *mcpsdk.CallToolResult {
	content := make([]mcpsdk.Content, 0, len(result.Content))
	for _, item := range result.Content {
		content = append(content, &mcpsdk.TextContent{Text: item.Text})
	}
	return &mcpsdk.CallToolResult{Content: content, IsError: result.IsError}
}

// inputSchema renders a tool's field schema as JSON Schema for tool
// discovery. Validation itself stays in the dispatcher.
func inputSchema(schema validate.Schema) *jsonschema.Schema {
	properties := make(map[string]*jsonschema.Schema, len(schema))
	var required []string
	for name, field := range schema {
		properties[name] = &jsonschema.Schema{Type: jsonType(field.Type)}
		if field.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

func jsonType(t validate.FieldType) string {
	switch t {
	case validate.TypeInt, validate.TypeFloat:
		return "number"
	case validate.TypeBool:
		return "boolean"
	case validate.TypeObject:
		return "object"
	case validate.TypeArray:
		return "array"
	default:
		return "string"
	}
}
