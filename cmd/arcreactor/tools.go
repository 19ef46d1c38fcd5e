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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/StarkFactory/arcreactor/pkg/tools"
)

// registerBuiltinTools wires a small, safe local tool catalog into
// registry, enough to exercise tool-calling end to end without
// requiring any external service. Grounded on the teacher's
// pkg/tool/filetool/read_file.go (bounded, working-directory-confined
// file reads) and pkg/tool/functiontool's schema-from-struct
// convention.
func registerBuiltinTools(registry *tools.Registry, workDir string) error {
	if workDir == "" {
		workDir = "."
	}

	if err := tools.RegisterFunction(registry, tools.Function[currentTimeArgs]{
		Name:        "current_time",
		Description: "Returns the current UTC time in RFC3339 format.",
		Category:    "utility",
		Timeout:     2 * time.Second,
		Fn: func(_ context.Context, _ currentTimeArgs) (string, error) {
			return time.Now().UTC().Format(time.RFC3339), nil
		},
	}); err != nil {
		return fmt.Errorf("registering current_time: %w", err)
	}

	if err := tools.RegisterFunction(registry, tools.Function[readFileArgs]{
		Name:        "read_file",
		Description: "Read a UTF-8 text file's contents, given a path relative to the working directory.",
		Category:    "filesystem",
		Timeout:     5 * time.Second,
		Fn: func(_ context.Context, args readFileArgs) (string, error) {
			return readFileImpl(workDir, args)
		},
	}); err != nil {
		return fmt.Errorf("registering read_file: %w", err)
	}

	return nil
}

type currentTimeArgs struct{}

type readFileArgs struct {
	Path string `json:"path" jsonschema:"required,description=File path to read, relative to the working directory"`
}

const maxReadFileSize = 1 << 20 // 1MiB

func readFileImpl(workDir string, args readFileArgs) (string, error) {
	if filepath.IsAbs(args.Path) {
		return "", fmt.Errorf("absolute paths not allowed, use a relative path")
	}
	cleaned := filepath.Clean(args.Path)
	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("directory traversal not allowed")
	}

	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		return "", fmt.Errorf("resolving working directory: %w", err)
	}
	full := filepath.Join(absWorkDir, cleaned)
	if !strings.HasPrefix(full, absWorkDir) {
		return "", fmt.Errorf("path escapes working directory")
	}

	info, err := os.Stat(full)
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}
	if info.Size() > maxReadFileSize {
		return "", fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), maxReadFileSize)
	}

	content, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(content), nil
}
