// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package shared holds state and helpers common to all CLI commands:
// global flag storage, store and logger construction, and output
// formatting.
package shared

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/getnvoi/conveyor/internal/log"
	"github.com/getnvoi/conveyor/pkg/store/sqlite"
)

var (
	jsonOutput bool
	quiet      bool
	dbPath     string
	logLevel   string
)

// RegisterFlagPointers returns pointers to the global flag values so the
// root command can bind persistent flags to them.
func RegisterFlagPointers() (jsonFlag, quietFlag *bool, db, level *string) {
	return &jsonOutput, &quiet, &dbPath, &logLevel
}

// GetJSON reports whether --json was set.
func GetJSON() bool { return jsonOutput }

// GetQuiet reports whether --quiet was set.
func GetQuiet() bool { return quiet }

// OpenStore opens the SQLite execution store at the configured path.
func OpenStore() (*sqlite.Store, error) {
	path := dbPath
	if path == "" {
		path = DefaultDBPath()
	}
	st, err := sqlite.New(sqlite.Config{Path: path, WAL: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", path, err)
	}
	return st, nil
}

// DefaultDBPath resolves the database location: CONVEYOR_DB if set,
// otherwise conveyor.db in the working directory.
func DefaultDBPath() string {
	if path := os.Getenv("CONVEYOR_DB"); path != "" {
		return path
	}
	return "conveyor.db"
}

// NewLogger builds the CLI logger from the global flags and environment.
// Quiet mode raises the level to error so progress logs stay out of the
// way of command output.
func NewLogger() *slog.Logger {
	cfg := log.FromEnv()
	cfg.Format = log.FormatText
	if logLevel != "" {
		cfg.Level = logLevel
	}
	if quiet {
		cfg.Level = "error"
	}
	return log.New(cfg)
}

// ParseInputs converts --input key=value pairs and an optional JSON input
// file into a workflow input map. Values that parse as JSON keep their
// JSON type; everything else stays a string. Flag values override file
// values on key collision.
func ParseInputs(pairs []string, inputFile string) (map[string]any, error) {
	inputs := map[string]any{}

	if inputFile != "" {
		data, err := readInputFile(inputFile)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &inputs); err != nil {
			return nil, fmt.Errorf("failed to parse input file %s: %w", inputFile, err)
		}
	}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q: expected key=value", pair)
		}
		inputs[key] = coerceValue(value)
	}

	if len(inputs) == 0 {
		return nil, nil
	}
	return inputs, nil
}

func readInputFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// coerceValue keeps typed inputs usable from the command line: numbers,
// booleans, null, and JSON composites decode; anything else is a string.
func coerceValue(value string) any {
	var decoded any
	if err := json.Unmarshal([]byte(value), &decoded); err == nil {
		return decoded
	}
	return value
}

// PrintJSON writes v as indented JSON to w.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
