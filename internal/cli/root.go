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

// Package cli assembles the root conveyor command.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/getnvoi/conveyor/internal/commands/shared"
)

// NewRootCommand creates the root Cobra command for Conveyor
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conveyor",
		Short: "Conveyor - durable workflow execution",
		Long: `Conveyor runs declarative YAML workflows with durable state: every
step is persisted before and after it runs, so a halted or interrupted
execution can always be resumed from where it stopped.

Run 'conveyor run workflow.yaml' to execute a workflow.
Run 'conveyor resume <execution-id>' to continue a halted execution.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	jsonFlag, quiet, db, level := shared.RegisterFlagPointers()

	cmd.PersistentFlags().BoolVar(jsonFlag, "json", false, "Output in JSON format")
	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().StringVar(db, "db", "", "Path to the execution database (default: $CONVEYOR_DB or ./conveyor.db)")
	cmd.PersistentFlags().StringVar(level, "log-level", "", "Log level: debug, info, warn, error")

	// Accept underscore spellings (--log_level) alongside the dashed forms.
	cmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	return cmd
}

// HandleExitError prints err and exits non-zero.
func HandleExitError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
