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

package resume

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/getnvoi/conveyor/internal/commands/shared"
	"github.com/getnvoi/conveyor/pkg/engine"
	"github.com/getnvoi/conveyor/pkg/runner"
	"github.com/getnvoi/conveyor/pkg/workflow"
)

// NewCommand creates the resume command
func NewCommand() *cobra.Command {
	var (
		workflowFile string
		workflowsDir string
		response     string
		approve      bool
		reject       bool
	)

	cmd := &cobra.Command{
		Use:   "resume <execution-id>",
		Short: "Resume a halted execution",
		Long: `Resume continues a halted execution from its recorded resume point.

The workflow definition is not stored with the execution, so --workflow
must point at the same YAML file the execution was started from.

Halt steps usually expect a response:
  --response '"approved by ops"'   JSON values keep their type
  --response plain-text            everything else is a string

Approval steps take a verdict instead:
  --approve    continue past the approval
  --reject     take the approval's on_reject edge`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve && reject {
				return fmt.Errorf("--approve and --reject are mutually exclusive")
			}
			if workflowFile == "" {
				return fmt.Errorf("--workflow is required")
			}

			registry := workflow.NewRegistry()
			if workflowsDir != "" {
				if err := registry.LoadDir(workflowsDir); err != nil {
					return fmt.Errorf("failed to load workflows from %s: %w", workflowsDir, err)
				}
			}

			def, err := registry.LoadFile(workflowFile)
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

			var opts []engine.ResumeOption
			if cmd.Flags().Changed("response") {
				opts = append(opts, engine.WithResponse(coerceResponse(response)))
			}
			if approve || reject {
				opts = append(opts, engine.WithApproval(approve))
			}

			result, err := runner.NewSync(eng).Resume(cmd.Context(), args[0], opts...)
			if err != nil {
				return err
			}
			return printResult(def.ID, result)
		},
	}

	cmd.Flags().StringVarP(&workflowFile, "workflow", "f", "", "Workflow YAML file the execution was started from")
	cmd.Flags().StringVar(&workflowsDir, "workflows-dir", "", "Directory of workflows available to workflow steps")
	cmd.Flags().StringVar(&response, "response", "", "Response injected as $response")
	cmd.Flags().BoolVar(&approve, "approve", false, "Approve a pending approval step")
	cmd.Flags().BoolVar(&reject, "reject", false, "Reject a pending approval step")

	return cmd
}

// coerceResponse mirrors input coercion: JSON values keep their type.
func coerceResponse(value string) any {
	var decoded any
	if err := json.Unmarshal([]byte(value), &decoded); err == nil {
		return decoded
	}
	return value
}

func printResult(workflowID string, result *engine.ExecutionResult) error {
	if shared.GetJSON() {
		return shared.PrintJSON(os.Stdout, result)
	}

	switch {
	case result.Halted():
		fmt.Printf("Workflow %s halted again at %s\n", workflowID, result.Halt.ResumeStep)
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
