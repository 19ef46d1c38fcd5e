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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/StarkFactory/arcreactor/pkg/agent"
	"github.com/StarkFactory/arcreactor/pkg/auth"
	"github.com/StarkFactory/arcreactor/pkg/react"
)

const defaultSystemPrompt = "You are a helpful assistant with access to tools. Use them when they would help answer the user's request."

// stdin is overridden in tests to feed scripted input.
var stdin io.Reader = os.Stdin

// startDirectChat is a bufio.Reader-driven interactive loop over
// stdin, grounded on the teacher's cmd/hector/chat_direct.go: it reads
// one line at a time, builds a Command, runs it through the engine's
// streaming surface, and prints fragments as they arrive.
func startDirectChat(ctx context.Context, rt *Runtime, token, sessionID, userID string) error {
	fmt.Println("Arc Reactor — type a message, or /quit to exit.")

	reader := bufio.NewReader(stdin)
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch line {
		case "/quit", "/exit":
			return nil
		case "/clear":
			sessionID = sessionID + "-reset"
			fmt.Println("(conversation history reset)")
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		runCtx, err := attachClaims(ctx, rt.Validator, token)
		if err != nil {
			fmt.Println("auth error:", err)
			continue
		}

		cmd := &agent.Command{
			SystemPrompt: defaultSystemPrompt,
			UserPrompt:   line,
			UserID:       userID,
			Metadata: map[string]string{
				agent.MetaSessionID: sessionID,
				agent.MetaChannel:   "cli",
			},
		}

		fragments, err := rt.Engine.ExecuteStream(runCtx, cmd)
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		printFragments(fragments)
	}
}

// attachClaims validates token against validator and returns a context
// carrying the resulting Claims, per pkg/auth's documented contract
// (a front validates upstream of the engine). Returns ctx unchanged
// when no validator is configured.
func attachClaims(ctx context.Context, validator auth.TokenValidator, token string) (context.Context, error) {
	if validator == nil {
		return ctx, nil
	}
	claims, err := validator.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return auth.ContextWithClaims(ctx, claims), nil
}

func printFragments(fragments <-chan react.Fragment) {
	for f := range fragments {
		switch f.Kind {
		case react.FragmentText:
			fmt.Print(f.Text)
		case react.FragmentToolStart:
			fmt.Printf("\n[calling %s...]", f.Detail)
		case react.FragmentToolEnd:
			fmt.Printf("[%s done]\n", f.Detail)
		case react.FragmentError:
			fmt.Println("\nerror:", f.Detail)
		}
	}
	fmt.Println()
}
