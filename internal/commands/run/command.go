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

package run

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/getnvoi/conveyor/internal/commands/shared"
	"github.com/getnvoi/conveyor/pkg/engine"
	"github.com/getnvoi/conveyor/pkg/runner"
	"github.com/getnvoi/conveyor/pkg/workflow"
)

// NewCommand creates the run command
func NewCommand() *cobra.Command {
	var (
		inputs       []string
		inputFile    string
		workflowsDir string
		executionID  string
	)

	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Execute a workflow",
		Long: `Run executes a workflow from a YAML file.

Inputs:
  --input key=value        May be repeated; values that parse as JSON keep
                           their JSON type (--input count=3 is a number)
  --input-file inputs.json JSON object of inputs ('-' reads stdin)

If the workflow halts (a halt or approval step), run prints the execution
ID and exits cleanly; continue it with 'conveyor resume'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := shared.ParseInputs(inputs, inputFile)
			if err != nil {
				return err
			}

			registry := workflow.NewRegistry()
			if workflowsDir != "" {
				if err := registry.LoadDir(workflowsDir); err != nil {
					return fmt.Errorf("failed to load workflows from %s: %w", workflowsDir, err)
				}
			}

			def, err := registry.LoadFile(args[0])
			if err != nil {
				return err
			}

			st, err := shared.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()

			eng, err := engine.New(def, st,
				engine.WithLogger(shared.NewLogger()),
				engine.WithWorkflowRegistry(registry),
			)
			if err != nil {
				return err
			}

			var opts []engine.RunOption
			if executionID != "" {
				opts = append(opts, engine.WithExecutionID(executionID))
			}

			result, err := runner.NewSync(eng).Run(cmd.Context(), input, opts...)
			if err != nil {
				return err
			}
			return printResult(def.ID, result)
		},
	}

	cmd.Flags().StringSliceVarP(&inputs, "input", "i", nil, "Workflow input in key=value format")
	cmd.Flags().StringVar(&inputFile, "input-file", "", "JSON file with inputs (use '-' for stdin)")
	cmd.Flags().StringVar(&workflowsDir, "workflows-dir", "", "Directory of workflows available to workflow steps")
	cmd.Flags().StringVar(&executionID, "execution-id", "", "Pin the execution ID instead of generating one")

	return cmd
}

func printResult(workflowID string, result *engine.ExecutionResult) error {
	if shared.GetJSON() {
		return shared.PrintJSON(os.Stdout, result)
	}

	switch {
	case result.Halted():
		fmt.Printf("Workflow %s halted at %s\n", workflowID, result.Halt.ResumeStep)
		if result.Halt.Prompt != "" {
			fmt.Printf("  %s\n", result.Halt.Prompt)
		}
		fmt.Printf("Resume with: conveyor resume %s\n", result.ExecutionID)
	case result.Completed():
		if !shared.GetQuiet() {
			fmt.Printf("Workflow %s completed (execution %s)\n", workflowID, result.ExecutionID)
		}
		if result.Output != nil {
			if err := shared.PrintJSON(os.Stdout, result.Output); err != nil {
				return err
			}
		}
	}
	return nil
}
