package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPDecodeResult holds the decoded request and an optional context enrichment.
type MCPDecodeResult struct {
	Request   any
	EnrichCtx func(context.Context) context.Context
}

// RegisterMCPTool registers an Endpoint as an MCP tool on the given server.
// The decode function extracts the typed request from the raw arguments.
//
// Endpoint results map to content as follows: a string becomes text, an
// mcp.Content or []mcp.Content is passed through, anything else is sent as
// JSON text. Endpoint errors become error-flagged results carrying the error
// text; the handler itself never returns a protocol error.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode func(*mcp.CallToolRequest) (*MCPDecodeResult, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = WithTool(ctx, tool.Name)
		decoded, err := decode(req)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("invalid arguments: %w", err))
			return &res, nil
		}
		if decoded.EnrichCtx != nil {
			ctx = decoded.EnrichCtx(ctx)
		}

		resp, err := endpoint(ctx, decoded.Request)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}

		content, err := toContent(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{Content: content}, nil
	})
}

func toContent(resp any) ([]mcp.Content, error) {
	switch v := resp.(type) {
	case string:
		return []mcp.Content{&mcp.TextContent{Text: v}}, nil
	case mcp.Content:
		return []mcp.Content{v}, nil
	case []mcp.Content:
		return v, nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return []mcp.Content{&mcp.TextContent{Text: string(data)}}, nil
}

// DecodeArgs unmarshals tool arguments into dst. Absent arguments leave dst
// at its zero value.
func DecodeArgs(req *mcp.CallToolRequest, dst any) error {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params.Arguments, dst)
}
