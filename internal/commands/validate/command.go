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

package validate

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/getnvoi/conveyor/internal/commands/shared"
	"github.com/getnvoi/conveyor/pkg/workflow"
)

// NewCommand creates the validate command
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <workflow.yaml>...",
		Short: "Validate workflow files",
		Long: `Validate parses and statically checks workflow files without running
them: step graph wiring, step type configuration, variable references,
and schema declarations.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			type report struct {
				File  string `json:"file"`
				Valid bool   `json:"valid"`
				Error string `json:"error,omitempty"`
			}

			var reports []report
			failures := 0
			for _, path := range args {
				r := report{File: path, Valid: true}
				if err := validateFile(path); err != nil {
					r.Valid = false
					r.Error = err.Error()
					failures++
				}
				reports = append(reports, r)
			}

			if shared.GetJSON() {
				if err := shared.PrintJSON(os.Stdout, reports); err != nil {
					return err
				}
			} else {
				for _, r := range reports {
					if r.Valid {
						fmt.Printf("%s: OK\n", r.File)
					} else {
						fmt.Printf("%s: %s\n", r.File, r.Error)
					}
				}
			}

			if failures > 0 {
				return fmt.Errorf("%d of %d files invalid", failures, len(args))
			}
			return nil
		},
	}

	return cmd
}

func validateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	def, err := workflow.Parse(data)
	if err != nil {
		return err
	}
	return def.Validate()
}
