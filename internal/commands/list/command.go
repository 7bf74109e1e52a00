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

package list

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/getnvoi/conveyor/internal/commands/shared"
	"github.com/getnvoi/conveyor/pkg/store"
)

// NewCommand creates the list command
func NewCommand() *cobra.Command {
	var (
		workflowID string
		status     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions",
		Long: `List shows stored executions, newest first.

Filter with --workflow and --status (pending, running, completed,
halted, failed).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := shared.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()

			execs, err := st.List(cmd.Context(), store.Filter{
				WorkflowID: workflowID,
				Status:     store.Status(status),
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			if shared.GetJSON() {
				return shared.PrintJSON(os.Stdout, execs)
			}
			return printTable(execs)
		},
	}

	cmd.Flags().StringVarP(&workflowID, "workflow", "w", "", "Only executions of this workflow")
	cmd.Flags().StringVarP(&status, "status", "s", "", "Only executions with this status")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of executions to show")

	return cmd
}

func printTable(execs []*store.Execution) error {
	if len(execs) == 0 {
		fmt.Println("No executions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EXECUTION\tWORKFLOW\tSTATUS\tSTEP\tUPDATED")
	for _, exec := range execs {
		step := exec.CurrentStep
		if exec.Status == store.StatusHalted && exec.RecoverTo != "" {
			step = exec.RecoverTo
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			exec.ID, exec.WorkflowID, exec.Status, step,
			exec.UpdatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}
