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

package main

import (
	"testing"

	"github.com/StarkFactory/arcreactor/pkg/config"
	"github.com/StarkFactory/arcreactor/pkg/tools"
)

func TestBuildSelector(t *testing.T) {
	cases := []struct {
		strategy config.ToolSelectionStrategy
		want     string
	}{
		{config.StrategyAll, "tools.AllSelector"},
		{config.StrategyKeyword, "*tools.KeywordSelector"},
		{config.StrategySemantic, "tools.AllSelector"},
		{"", "tools.AllSelector"},
	}
	for _, c := range cases {
		got := buildSelector(config.ToolSelectionConfig{Strategy: c.strategy})
		switch got.(type) {
		case tools.AllSelector:
			if c.want != "tools.AllSelector" {
				t.Errorf("strategy %q: got AllSelector, want %s", c.strategy, c.want)
			}
		case *tools.KeywordSelector:
			if c.want != "*tools.KeywordSelector" {
				t.Errorf("strategy %q: got KeywordSelector, want %s", c.strategy, c.want)
			}
		default:
			t.Errorf("strategy %q: unexpected selector type %T", c.strategy, got)
		}
	}
}

func TestMCPConfigsFrom(t *testing.T) {
	cli := &CLI{}
	if got := mcpConfigsFrom(cli); len(got) != 0 {
		t.Fatalf("expected no MCP configs by default, got %d", len(got))
	}

	cli = &CLI{MCPURL: "http://localhost:9000"}
	got := mcpConfigsFrom(cli)
	if len(got) != 1 || got[0].URL != "http://localhost:9000" || got[0].Transport != "streamable-http" {
		t.Fatalf("unexpected MCP URL config: %+v", got)
	}

	cli = &CLI{MCPCommand: "mcp-server", MCPArgs: []string{"--stdio"}}
	got = mcpConfigsFrom(cli)
	if len(got) != 1 || got[0].Command != "mcp-server" || got[0].Transport != "stdio" {
		t.Fatalf("unexpected MCP command config: %+v", got)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig(\"\") returned error: %v", err)
	}
	if cfg.Engine.MaxToolCalls != 10 {
		t.Errorf("expected default MaxToolCalls=10, got %d", cfg.Engine.MaxToolCalls)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := loadConfig("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
