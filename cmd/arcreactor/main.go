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

// Command arcreactor is a minimal CLI wiring the Agent Execution Engine
// end to end with in-memory stores, grounded in the teacher's
// cmd/hector: a kong-based command surface, a direct interactive chat
// loop over stdin/stdout, and a CLI-flag/env-var-driven logger
// initialization.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/StarkFactory/arcreactor/pkg/config"
	"github.com/StarkFactory/arcreactor/pkg/logger"
	"github.com/StarkFactory/arcreactor/pkg/mcp"
)

// CLI is the root command surface. Global flags configure the LLM
// endpoint and logger; Chat is currently the only subcommand, since
// this CLI's purpose is to exercise the engine directly rather than
// serve an HTTP transport (the engine itself defines no such surface).
type CLI struct {
	Config   string `help:"Path to a YAML engine config file. Omitted means config defaults." type:"path"`
	LogLevel string `help:"Log level: debug, info, warn, error." default:""`
	LogFile  string `help:"Write logs to this file instead of stderr." default:""`

	LLMBaseURL string `help:"Chat-Completions-compatible endpoint base URL." env:"ARCREACTOR_LLM_BASE_URL" default:"https://api.openai.com/v1"`
	LLMAPIKey  string `help:"Bearer token for the LLM endpoint." env:"ARCREACTOR_LLM_API_KEY"`
	Model      string `help:"Model name passed to the LLM endpoint." env:"ARCREACTOR_MODEL" default:"gpt-4o-mini"`
	WorkDir    string `help:"Working directory local tools (read_file) are confined to." default:"."`

	JWKSURL  string `help:"JWKS URL for optional bearer-token validation before each request." env:"ARCREACTOR_JWKS_URL"`
	Issuer   string `help:"Expected issuer claim, required when --jwks-url is set." env:"ARCREACTOR_JWT_ISSUER"`
	Audience string `help:"Expected audience claim." env:"ARCREACTOR_JWT_AUDIENCE"`
	Token    string `help:"Bearer token attached to every request, validated when --jwks-url is set." env:"ARCREACTOR_TOKEN"`

	MCPURL     string   `help:"Remote MCP server URL (sse/streamable-http transport)." env:"ARCREACTOR_MCP_URL"`
	MCPCommand string   `help:"Command to launch a stdio MCP server." env:"ARCREACTOR_MCP_COMMAND"`
	MCPArgs    []string `help:"Arguments for --mcp-command."`

	Chat ChatCmd `cmd:"" help:"Start an interactive chat session against the engine."`
}

// ChatCmd runs the direct interactive chat loop.
type ChatCmd struct {
	SessionID string `help:"Session id to scope conversation history under." default:"cli-session"`
	UserID    string `help:"User id attached to every command." default:"cli-user"`
}

func (c *ChatCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	rt, err := BuildRuntime(cfg, RuntimeOptions{
		Model:      cli.Model,
		LLMBaseURL: cli.LLMBaseURL,
		LLMAPIKey:  cli.LLMAPIKey,
		WorkDir:    cli.WorkDir,
		JWKSURL:    cli.JWKSURL,
		Issuer:     cli.Issuer,
		Audience:   cli.Audience,
		MCPServers: mcpConfigsFrom(cli),
	})
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registerSignalHandler(cancel)

	if rt.MCP != nil {
		rt.MCP.Start(ctx)
	}

	return startDirectChat(ctx, rt, cli.Token, c.SessionID, c.UserID)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := &config.Config{}
		cfg.SetDefaults()
		return cfg, nil
	}
	return config.Load(path)
}

func mcpConfigsFrom(cli *CLI) []mcp.Config {
	var configs []mcp.Config
	if cli.MCPURL != "" {
		configs = append(configs, mcp.Config{Name: "remote", URL: cli.MCPURL, Transport: "streamable-http"})
	}
	if cli.MCPCommand != "" {
		configs = append(configs, mcp.Config{Name: "local", Transport: "stdio", Command: cli.MCPCommand, Args: cli.MCPArgs})
	}
	return configs
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("arcreactor"),
		kong.Description("Arc Reactor: a multi-tenant agent execution engine."),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "arcreactor: logger init:", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, "arcreactor:", err)
		os.Exit(1)
	}
}

// initLogger resolves level/file with CLI-flag > env-var > default
// priority, mirroring the teacher's cmd/hector/logger.go.
func initLogger(cliLevel, cliFile string) (func(), error) {
	level := cliLevel
	if level == "" {
		level = os.Getenv("ARCREACTOR_LOG_LEVEL")
	}
	if level == "" {
		level = "info"
	}
	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	file := cliFile
	if file == "" {
		file = os.Getenv("ARCREACTOR_LOG_FILE")
	}

	if file == "" {
		logger.Init(parsed, os.Stderr, "simple")
		return func() {}, nil
	}

	f, cleanup, err := logger.OpenLogFile(file)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", file, err)
	}
	logger.Init(parsed, f, "simple")
	return cleanup, nil
}
