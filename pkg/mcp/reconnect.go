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
	"log/slog"
	"time"

	"github.com/StarkFactory/arcreactor/pkg/circuitbreaker"
	"github.com/StarkFactory/arcreactor/pkg/metrics"
	"github.com/StarkFactory/arcreactor/pkg/tools"
)

// Manager supervises a fixed set of MCP Servers: it connects each at
// startup and runs one reconnect goroutine per server that watches for
// a FAILED or DISCONNECTED status and retries with exponential
// backoff, publishing an McpHealthEvent after the initial connect and
// after every reconnect attempt; Stop publishes none (SPEC_FULL.md §12's supplemented "MCP connection health tracking
// with backoff reconnect" feature — the teacher's Toolset connects
// lazily exactly once and never retries, so this supervision loop has
// no single teacher analogue and was designed for this spec).
type Manager struct {
	servers []*Server
	emitter *metrics.Emitter
}

// NewManager builds every configured server (unconnected) against the
// shared registry and breaker registry.
func NewManager(configs []Config, registry *tools.Registry, breakers *circuitbreaker.Registry, emitter *metrics.Emitter) *Manager {
	servers := make([]*Server, 0, len(configs))
	for _, cfg := range configs {
		servers = append(servers, NewServer(cfg, registry, breakers))
	}
	return &Manager{servers: servers, emitter: emitter}
}

// Start connects every server once (logging, not failing, on error)
// and launches its supervised reconnect goroutine. It returns once the
// initial connection attempts complete; reconnection continues in the
// background until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	for _, s := range m.servers {
		s := s
		if err := s.Connect(ctx); err != nil {
			slog.Warn("mcp: initial connect failed, will retry", "server", s.cfg.Name, "err", err)
		}
		m.publishHealth(s)
		go m.supervise(ctx, s)
	}
}

func (m *Manager) supervise(ctx context.Context, s *Server) {
	delay := s.cfg.ReconnectBaseDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if s.Status() == StatusConnected {
			delay = s.cfg.ReconnectBaseDelay
			continue
		}

		if err := s.Connect(ctx); err != nil {
			slog.Warn("mcp: reconnect attempt failed", "server", s.cfg.Name, "err", err)
			delay *= 2
			if delay > s.cfg.ReconnectMaxDelay {
				delay = s.cfg.ReconnectMaxDelay
			}
		} else {
			delay = s.cfg.ReconnectBaseDelay
		}
		m.publishHealth(s)
	}
}

func (m *Manager) publishHealth(s *Server) {
	if m.emitter == nil {
		return
	}
	m.emitter.Publish(metrics.NewMcpHealthEvent("", "", metrics.McpHealthPayload{
		ServerName: s.cfg.Name,
		Status:     string(s.Status()),
	}))
}

// Stop disconnects every server.
func (m *Manager) Stop() {
	for _, s := range m.servers {
		if err := s.Disconnect(); err != nil {
			slog.Warn("mcp: disconnect failed", "server", s.cfg.Name, "err", err)
		}
	}
}
