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

// Package mcp implements the remote-tool transport (SPEC_FULL.md §11,
// §12): connecting to Model Context Protocol servers over stdio
// (mark3labs/mcp-go) or HTTP/SSE (hand-rolled JSON-RPC over the
// teacher's pkg/httpclient), tracking each server's connection health,
// and feeding discovered tools into pkg/tools.Registry. Grounded on the
// teacher's pkg/tool/mcptoolset/mcptoolset.go.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/StarkFactory/arcreactor/pkg/agent"
	"github.com/StarkFactory/arcreactor/pkg/circuitbreaker"
	"github.com/StarkFactory/arcreactor/pkg/tools"
)

// Status is a remote tool server's connection lifecycle state
// (SPEC_FULL.md §12 "MCP connection health tracking").
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusConnected    Status = "CONNECTED"
	StatusFailed       Status = "FAILED"
	StatusDisconnected Status = "DISCONNECTED"
)

// Config configures one MCP server connection, mirroring the teacher's
// mcptoolset.Config.
type Config struct {
	Name      string
	URL       string // for http/sse transports
	Transport string // "stdio", "sse", "streamable-http"
	Command   string // for stdio transport
	Args      []string
	Env       map[string]string
	Filter    []string // tool names to expose; empty means all

	MaxRetries int
	SSETimeout time.Duration

	// ReconnectBaseDelay/MaxDelay configure the supervised auto-reconnect
	// goroutine's exponential backoff (SPEC_FULL.md §12).
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.SSETimeout <= 0 {
		c.SSETimeout = 5 * time.Minute
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = 2 * time.Second
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 2 * time.Minute
	}
}

// Server is one MCP server connection: it owns a transport, a health
// status, and a circuit breaker, and registers its discovered tools
// into a shared tools.Registry under its own name as the tool source.
type Server struct {
	cfg     Config
	breaker *circuitbreaker.Breaker
	registry *tools.Registry

	mu       sync.Mutex
	status   Status
	transport transport
	lastErr  error
}

// transport is the narrow seam between Server and either the stdio or
// HTTP/SSE wire implementation, mirroring mcpToolWrapper.useStdio's
// branch in the teacher but expressed as an interface instead of a
// bool flag, since this package supports reconnect/rebuild cycles the
// teacher's lazily-connected-once Toolset doesn't.
type transport interface {
	connect(ctx context.Context) ([]agent.ToolSpec, error)
	call(ctx context.Context, name string, args json.RawMessage) (string, error)
	close() error
}

// NewServer builds a Server. It does not connect until Start is called.
func NewServer(cfg Config, registry *tools.Registry, breakers *circuitbreaker.Registry) *Server {
	cfg.setDefaults()
	return &Server{
		cfg:      cfg,
		registry: registry,
		breaker:  breakers.Get("mcp." + cfg.Name),
		status:   StatusPending,
	}
}

// Status returns the server's current connection status.
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Connect performs one connection attempt, registering discovered
// tools into the shared registry on success.
func (s *Server) Connect(ctx context.Context) error {
	t := s.buildTransport()

	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		specs, connErr := t.connect(ctx)
		if connErr != nil {
			return connErr
		}

		s.mu.Lock()
		if s.transport != nil {
			_ = s.transport.close()
		}
		s.transport = t
		s.status = StatusConnected
		s.lastErr = nil
		s.mu.Unlock()

		for _, spec := range specs {
			spec := spec
			s.registry.Register(s.cfg.Name, spec, invokerFunc(func(ctx context.Context, args json.RawMessage) (string, error) {
				return s.invoke(ctx, spec.Name, args)
			}))
		}
		return nil
	})

	if err != nil {
		s.mu.Lock()
		s.status = StatusFailed
		s.lastErr = err
		s.mu.Unlock()
		return fmt.Errorf("mcp: connecting to %q: %w", s.cfg.Name, err)
	}
	return nil
}

func (s *Server) buildTransport() transport {
	if s.cfg.Command != "" || s.cfg.Transport == "stdio" {
		return &stdioTransport{cfg: s.cfg}
	}
	return &httpTransport{cfg: s.cfg}
}

func (s *Server) invoke(ctx context.Context, name string, args json.RawMessage) (string, error) {
	s.mu.Lock()
	t := s.transport
	status := s.status
	s.mu.Unlock()

	if status != StatusConnected || t == nil {
		return "", fmt.Errorf("mcp: server %q is not connected", s.cfg.Name)
	}

	return circuitbreaker.ExecuteWithResult(s.breaker, ctx, func(ctx context.Context) (string, error) {
		return t.call(ctx, name, args)
	})
}

// Disconnect closes the transport and unregisters this server's tools,
// used on graceful shutdown or before a reconnect attempt rebuilds the
// transport from scratch.
func (s *Server) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.Unregister(s.cfg.Name)
	s.status = StatusDisconnected

	if s.transport == nil {
		return nil
	}
	err := s.transport.close()
	s.transport = nil
	return err
}

// invokerFunc adapts a plain function to tools.Invoker.
type invokerFunc func(ctx context.Context, args json.RawMessage) (string, error)

func (f invokerFunc) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	return f(ctx, args)
}
