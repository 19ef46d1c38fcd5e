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

package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/StarkFactory/arcreactor/pkg/agent"
)

// stdioTransport connects to a local MCP server subprocess via
// mcp-go's client, grounded on the teacher's connectStdio/callStdio.
type stdioTransport struct {
	cfg    Config
	client *client.Client
}

func (t *stdioTransport) connect(ctx context.Context) ([]agent.ToolSpec, error) {
	c, err := client.NewStdioMCPClient(t.cfg.Command, envSlice(t.cfg.Env), t.cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("mcp stdio: creating client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("mcp stdio: starting client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "arcreactor", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("mcp stdio: initializing: %w", err)
	}

	listResp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("mcp stdio: listing tools: %w", err)
	}

	filterSet := filterSetOf(t.cfg.Filter)
	specs := make([]agent.ToolSpec, 0, len(listResp.Tools))
	for _, mt := range listResp.Tools {
		if filterSet != nil && !filterSet[mt.Name] {
			continue
		}
		specs = append(specs, agent.ToolSpec{
			Name:        mt.Name,
			Description: mt.Description,
			Schema:      convertSchema(mt.InputSchema),
		})
	}

	t.client = c
	return specs, nil
}

func (t *stdioTransport) call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	if t.client == nil {
		return "", fmt.Errorf("mcp stdio: not connected")
	}

	var argMap map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &argMap); err != nil {
			return "", fmt.Errorf("mcp stdio: decoding arguments: %w", err)
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = argMap

	resp, err := t.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp stdio: calling tool %q: %w", name, err)
	}
	return parseCallResult(resp)
}

func (t *stdioTransport) close() error {
	if t.client == nil {
		return nil
	}
	return t.client.Close()
}

func parseCallResult(resp *mcp.CallToolResult) (string, error) {
	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	joined := joinTexts(texts)
	if resp.IsError {
		if joined == "" {
			joined = "unknown MCP tool error"
		}
		return "", fmt.Errorf("mcp: tool returned an error: %s", joined)
	}
	return joined, nil
}

func joinTexts(texts []string) string {
	switch len(texts) {
	case 0:
		return ""
	case 1:
		return texts[0]
	default:
		out, _ := json.Marshal(texts)
		return string(out)
	}
}

func convertSchema(schema mcp.ToolInputSchema) json.RawMessage {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	return json.RawMessage(data)
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func filterSetOf(filter []string) map[string]bool {
	if len(filter) == 0 {
		return nil
	}
	set := make(map[string]bool, len(filter))
	for _, name := range filter {
		set[name] = true
	}
	return set
}
