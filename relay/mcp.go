package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers the relay tools on an MCP server.
func (r *Relay) RegisterMCP(srv *mcp.Server) {
	r.registerTrigger(srv)
	r.registerSnapshot(srv)
	r.registerIntent(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (r *Relay) registerTrigger(srv *mcp.Server) {
	type req struct {
		ContextID string `json:"context_id"`
	}

	tool := &mcp.Tool{
		Name:        "relay_trigger",
		Description: "Record a trigger-analysis intent for a hosted context and deliver the context's snapshot to its panel",
		InputSchema: inputSchema(map[string]any{
			"context_id": map[string]any{"type": "string", "description": "Hosted context ID"},
		}, []string{"context_id"}),
	}

	endpoint := func(ctx context.Context, in any) (any, error) {
		p := in.(*req)
		if p.ContextID == "" {
			return nil, errors.New("context_id is required")
		}
		r.OnUserIntent(context.WithoutCancel(ctx), p.ContextID)
		return map[string]any{"accepted": true, "contextId": p.ContextID}, nil
	}

	registerTool(srv, tool, endpoint, func(raw json.RawMessage) (any, error) {
		var p req
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	})
}

func (r *Relay) registerSnapshot(srv *mcp.Server) {
	type req struct {
		ContextID string `json:"context_id"`
	}

	tool := &mcp.Tool{
		Name:        "relay_snapshot",
		Description: "Read the stored snapshot for a context, or the most recently captured one when context_id is omitted",
		InputSchema: inputSchema(map[string]any{
			"context_id": map[string]any{"type": "string", "description": "Hosted context ID (optional)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, in any) (any, error) {
		p := in.(*req)
		if p.ContextID == "" {
			return r.box.Current(ctx)
		}
		return r.box.Snapshot(ctx, p.ContextID)
	}

	registerTool(srv, tool, endpoint, func(raw json.RawMessage) (any, error) {
		var p req
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	})
}

func (r *Relay) registerIntent(srv *mcp.Server) {
	type req struct {
		ContextID string `json:"context_id"`
	}

	tool := &mcp.Tool{
		Name:        "relay_intent",
		Description: "Read the pending intent for a context without consuming it",
		InputSchema: inputSchema(map[string]any{
			"context_id": map[string]any{"type": "string", "description": "Hosted context ID"},
		}, []string{"context_id"}),
	}

	endpoint := func(ctx context.Context, in any) (any, error) {
		p := in.(*req)
		if p.ContextID == "" {
			return nil, errors.New("context_id is required")
		}
		return r.box.Intent(ctx, p.ContextID)
	}

	registerTool(srv, tool, endpoint, func(raw json.RawMessage) (any, error) {
		var p req
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	})
}

// registerTool adapts a decode + endpoint pair into an MCP tool handler:
// decode failures and endpoint errors come back as tool errors, results
// are marshaled into a single text content block.
func registerTool(srv *mcp.Server, tool *mcp.Tool, endpoint func(context.Context, any) (any, error), decode func(json.RawMessage) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decoded, err := decode(req.Params.Arguments)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("invalid arguments: %w", err))
			return &res, nil
		}

		resp, err := endpoint(ctx, decoded)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}
