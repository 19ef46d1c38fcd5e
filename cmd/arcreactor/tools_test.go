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
	"os"
	"path/filepath"
	"testing"

	"github.com/StarkFactory/arcreactor/pkg/tools"
)

func TestRegisterBuiltinTools(t *testing.T) {
	registry := tools.New()
	if err := registerBuiltinTools(registry, t.TempDir()); err != nil {
		t.Fatalf("registerBuiltinTools returned error: %v", err)
	}
	specs := registry.All()
	names := map[string]bool{}
	for _, s := range specs {
		names[s.Name] = true
	}
	if !names["current_time"] || !names["read_file"] {
		t.Fatalf("expected current_time and read_file to be registered, got %v", specs)
	}
}

func TestReadFileImpl(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "greeting.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := readFileImpl(dir, readFileArgs{Path: "greeting.txt"})
	if err != nil {
		t.Fatalf("readFileImpl returned error: %v", err)
	}
	if out != "hello world" {
		t.Errorf("got %q, want %q", out, "hello world")
	}
}

func TestReadFileImpl_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	if _, err := readFileImpl(dir, readFileArgs{Path: "../../etc/passwd"}); err == nil {
		t.Fatal("expected an error for a path traversal attempt")
	}
}

func TestReadFileImpl_RejectsAbsolute(t *testing.T) {
	dir := t.TempDir()
	if _, err := readFileImpl(dir, readFileArgs{Path: "/etc/passwd"}); err == nil {
		t.Fatal("expected an error for an absolute path")
	}
}
