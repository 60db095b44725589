// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/document"
)

const mcpProtocolVersion = "2024-11-05"

// Engine runs OCR through an external MCP tool server. The server is a
// subprocess speaking stdio (tesseract wrappers, docling and similar
// parser servers all ship one). The connection is established lazily on
// the first Recognize call.
type Engine struct {
	cfg config.OCRConfig

	mu     sync.Mutex
	conn   toolConn
	tool   string
	schema map[string]any

	// dial is swapped out in tests.
	dial func(ctx context.Context) (toolConn, []mcp.Tool, error)
}

// toolConn is the slice of the MCP client the engine uses after setup.
type toolConn interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// NewEngine creates an engine for the configured OCR server.
func NewEngine(cfg config.OCRConfig) *Engine {
	e := &Engine{cfg: cfg}
	e.dial = e.dialStdio
	return e
}

// Recognize runs the OCR tool against the file at path. Calls are
// serialized; the stdio transport is not multiplexed.
func (e *Engine) Recognize(ctx context.Context, path string) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.connect(ctx); err != nil {
		return nil, err
	}

	args := map[string]any{pathArgName(e.schema): path}
	if len(e.cfg.Languages) > 0 && hasProperty(e.schema, "languages") {
		args["languages"] = e.cfg.Languages
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = e.tool
	req.Params.Arguments = args

	resp, err := e.conn.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("OCR tool call failed: %w", err)
	}

	text := textContent(resp)
	if resp.IsError {
		if text == "" {
			text = "unknown error"
		}
		return nil, fmt.Errorf("OCR tool reported an error: %s", text)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("OCR tool returned no text for %s", path)
	}
	return parseResult(text), nil
}

// Close shuts down the OCR server subprocess.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	return err
}

// connect establishes the MCP session and picks the OCR tool. Callers
// hold e.mu.
func (e *Engine) connect(ctx context.Context) error {
	if e.conn != nil {
		return nil
	}
	if e.cfg.Command == "" {
		return fmt.Errorf("no OCR command configured")
	}

	conn, tools, err := e.dial(ctx)
	if err != nil {
		return err
	}

	name, schema := selectTool(tools, e.cfg.Tools)
	if name == "" {
		conn.Close()
		return fmt.Errorf("MCP server exposes no OCR tool (tried: %s)", strings.Join(e.cfg.Tools, ", "))
	}

	e.conn = conn
	e.tool = name
	e.schema = schema

	slog.Info("Connected to OCR MCP server",
		"command", e.cfg.Command,
		"tool", name,
		"tools", len(tools),
	)
	return nil
}

// dialStdio launches the configured command and completes the MCP
// handshake.
func (e *Engine) dialStdio(ctx context.Context) (toolConn, []mcp.Tool, error) {
	mcpClient, err := client.NewStdioMCPClient(
		e.cfg.Command,
		envList(e.cfg.Env),
		e.cfg.Args...,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "mnemo",
		Version: "0.1.0",
	}
	initReq.Params.ProtocolVersion = mcpProtocolVersion

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return nil, nil, fmt.Errorf("failed to initialize MCP: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return nil, nil, fmt.Errorf("failed to list tools: %w", err)
	}

	return mcpClient, listResp.Tools, nil
}

// selectTool matches the candidate names in order against the server's
// tool list and falls back to the first exposed tool when none match.
func selectTool(tools []mcp.Tool, candidates []string) (string, map[string]any) {
	byName := make(map[string]mcp.Tool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}
	for _, name := range candidates {
		if t, ok := byName[name]; ok {
			return t.Name, convertSchema(t.InputSchema)
		}
	}
	if len(tools) > 0 {
		return tools[0].Name, convertSchema(tools[0].InputSchema)
	}
	return "", nil
}

// convertSchema flattens the tool input schema to a plain map.
func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// pathArgName picks the parameter that carries the file path: the
// schema's first required property, then conventional names.
func pathArgName(schema map[string]any) string {
	if req, ok := schema["required"].([]any); ok && len(req) > 0 {
		if name, ok := req[0].(string); ok && name != "" {
			return name
		}
	}
	props, _ := schema["properties"].(map[string]any)
	for _, name := range []string{"file_path", "path", "input", "document"} {
		if _, ok := props[name]; ok {
			return name
		}
	}
	return "file_path"
}

func hasProperty(schema map[string]any, name string) bool {
	props, _ := schema["properties"].(map[string]any)
	_, ok := props[name]
	return ok
}

// textContent joins the text parts of a tool response.
func textContent(resp *mcp.CallToolResult) string {
	var texts []string
	for _, c := range resp.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// parseResult decodes the structured envelope some OCR servers return
// ({"text": ..., "confidence": ...}). Anything else is taken verbatim
// with confidence 1.
func parseResult(text string) *Result {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		var body struct {
			Text       string   `json:"text"`
			Confidence *float64 `json:"confidence"`
		}
		if err := json.Unmarshal([]byte(trimmed), &body); err == nil && body.Text != "" {
			res := &Result{Text: body.Text, Confidence: 1}
			if body.Confidence != nil {
				res.Confidence = document.Clamp01(*body.Confidence)
			}
			return res
		}
	}
	return &Result{Text: text, Confidence: 1}
}

// envList converts the config env map to "KEY=VALUE" pairs.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

var _ Recognizer = (*Engine)(nil)
