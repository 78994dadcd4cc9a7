package streaminghttp_test

import (
	"testing"

	"github.com/ggoodman/mcp-server-template/catalog/template"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// TestSDKClient_E2E drives the handler with the reference MCP client.
func TestSDKClient_E2E(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	srv, _ := mustServer(t)

	client := sdk.NewClient(&sdk.Implementation{Name: "e2e", Version: "0.0.0"}, &sdk.ClientOptions{})
	transport := &sdk.StreamableClientTransport{Endpoint: srv.URL + "/mcp"}
	cs, err := client.Connect(ctx, transport, &sdk.ClientSessionOptions{})
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer cs.Close()

	lt, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(lt.Tools) != 10 || lt.Tools[0].Name != "greet" {
		t.Fatalf("unexpected tools: %+v", lt.Tools)
	}

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      "add",
		Arguments: map[string]any{"a": 2, "b": 3},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if text := firstText(t, res); res.IsError || text != "5" {
		t.Fatalf("unexpected add result: %q (isError=%v)", text, res.IsError)
	}

	res, err = cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      "divide",
		Arguments: map[string]any{"a": 1, "b": 0},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if text := firstText(t, res); !res.IsError || text != "division by zero" {
		t.Fatalf("unexpected divide result: %q (isError=%v)", text, res.IsError)
	}

	gp, err := cs.GetPrompt(ctx, &sdk.GetPromptParams{
		Name:      "greeting-template",
		Arguments: map[string]string{"name": "Ada"},
	})
	if err != nil {
		t.Fatalf("GetPrompt failed: %v", err)
	}
	if len(gp.Messages) != 1 {
		t.Fatalf("unexpected prompt messages: %+v", gp.Messages)
	}

	rr, err := cs.ReadResource(ctx, &sdk.ReadResourceParams{URI: template.GreetingURI})
	if err != nil {
		t.Fatalf("ReadResource failed: %v", err)
	}
	if len(rr.Contents) != 1 || rr.Contents[0].Text != "Hello, world!" {
		t.Fatalf("unexpected resource contents: %+v", rr.Contents)
	}

	if _, err := cs.ReadResource(ctx, &sdk.ReadResourceParams{URI: "https://example.com/missing"}); err == nil {
		t.Fatalf("expected an error for a missing resource")
	}
}

func firstText(t *testing.T, res *sdk.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatalf("empty call result: %+v", res)
	}
	tc, ok := res.Content[0].(*sdk.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return tc.Text
}
