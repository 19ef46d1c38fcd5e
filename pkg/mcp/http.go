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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/StarkFactory/arcreactor/pkg/agent"
	"github.com/StarkFactory/arcreactor/pkg/httpclient"
)

// httpTransport speaks JSON-RPC-over-HTTP to sse/streamable-http MCP
// servers, grounded on the teacher's connectHTTP/makeHTTPRequest/
// readSSEResponse, reusing the teacher's pkg/httpclient for retry and
// backoff instead of a raw net/http.Client.
type httpTransport struct {
	cfg    Config
	client *httpclient.Client

	sessionMu sync.RWMutex
	sessionID string
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (t *httpTransport) connect(ctx context.Context) ([]agent.ToolSpec, error) {
	t.client = httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		httpclient.WithMaxRetries(t.cfg.MaxRetries),
		httpclient.WithBaseDelay(2*time.Second),
	)

	initResp, err := t.request(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]any{"name": "arcreactor", "version": "1.0.0"},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("mcp http: initializing: %w", err)
	}
	if initResp.Error != nil {
		return nil, fmt.Errorf("mcp http: init error: %s", initResp.Error.Message)
	}

	listResp, err := t.request(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("mcp http: listing tools: %w", err)
	}
	if listResp.Error != nil {
		return nil, fmt.Errorf("mcp http: list error: %s", listResp.Error.Message)
	}

	resultMap, ok := listResp.Result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("mcp http: unexpected tools/list result shape")
	}
	rawTools, ok := resultMap["tools"].([]any)
	if !ok {
		return nil, fmt.Errorf("mcp http: tools/list response missing tools")
	}

	filterSet := filterSetOf(t.cfg.Filter)
	specs := make([]agent.ToolSpec, 0, len(rawTools))
	for _, raw := range rawTools {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		if filterSet != nil && !filterSet[name] {
			continue
		}
		desc, _ := entry["description"].(string)

		var schema json.RawMessage
		if inputSchema, ok := entry["inputSchema"].(map[string]any); ok {
			if data, err := json.Marshal(inputSchema); err == nil {
				schema = data
			}
		}

		specs = append(specs, agent.ToolSpec{Name: name, Description: desc, Schema: schema})
	}

	return specs, nil
}

func (t *httpTransport) call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	var argMap map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &argMap); err != nil {
			return "", fmt.Errorf("mcp http: decoding arguments: %w", err)
		}
	}

	resp, err := t.request(ctx, "tools/call", map[string]any{"name": name, "arguments": argMap})
	if err != nil {
		return "", fmt.Errorf("mcp http: calling tool %q: %w", name, err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("mcp: tool returned an error: %s", resp.Error.Message)
	}

	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		out, _ := json.Marshal(resp.Result)
		return string(out), nil
	}

	if isError, _ := resultMap["isError"].(bool); isError {
		msg := "unknown MCP tool error"
		if content, ok := resultMap["content"].([]any); ok {
			for _, c := range content {
				if cm, ok := c.(map[string]any); ok {
					if text, ok := cm["text"].(string); ok {
						msg = text
						break
					}
				}
			}
		}
		return "", fmt.Errorf("mcp: tool returned an error: %s", msg)
	}

	var texts []string
	if content, ok := resultMap["content"].([]any); ok {
		for _, c := range content {
			cm, ok := c.(map[string]any)
			if !ok || cm["type"] != "text" {
				continue
			}
			if text, ok := cm["text"].(string); ok {
				texts = append(texts, text)
			}
		}
	}
	return joinTexts(texts), nil
}

func (t *httpTransport) close() error {
	t.client = nil
	return nil
}

func (t *httpTransport) request(ctx context.Context, method string, params any) (*jsonRPCResponse, error) {
	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	t.sessionMu.RLock()
	sessionID := t.sessionID
	t.sessionMu.RUnlock()
	if sessionID != "" {
		httpReq.Header.Set("mcp-session-id", sessionID)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if newSessionID := httpResp.Header.Get("mcp-session-id"); newSessionID != "" {
		t.sessionMu.Lock()
		t.sessionID = newSessionID
		t.sessionMu.Unlock()
	}

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("HTTP error %d: %s", httpResp.StatusCode, string(respBody))
	}

	if strings.Contains(httpResp.Header.Get("Content-Type"), "text/event-stream") {
		return t.readSSE(httpResp)
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	var resp jsonRPCResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &resp, nil
}

// readSSE reads the first complete JSON-RPC event from an SSE stream,
// grounded on the teacher's readSSEResponse.
func (t *httpTransport) readSSE(httpResp *http.Response) (*jsonRPCResponse, error) {
	type result struct {
		resp *jsonRPCResponse
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		defer httpResp.Body.Close()
		reader := bufio.NewReader(httpResp.Body)
		var data strings.Builder

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				break
			}
			trimmed := strings.TrimSpace(string(line))
			if trimmed == "" {
				if data.Len() == 0 {
					continue
				}
				var resp jsonRPCResponse
				if err := json.Unmarshal([]byte(data.String()), &resp); err == nil {
					resultCh <- result{resp: &resp}
					return
				}
				data.Reset()
				continue
			}
			if strings.HasPrefix(trimmed, "data:") {
				data.WriteString(strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
			}
		}

		if data.Len() > 0 {
			var resp jsonRPCResponse
			if err := json.Unmarshal([]byte(data.String()), &resp); err == nil {
				resultCh <- result{resp: &resp}
				return
			}
		}
		resultCh <- result{err: fmt.Errorf("SSE stream ended without a complete message")}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return res.resp, nil
	case <-time.After(t.cfg.SSETimeout):
		return nil, fmt.Errorf("timeout reading SSE response after %v", t.cfg.SSETimeout)
	}
}
