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

package main

import (
	"github.com/getnvoi/conveyor/internal/cli"
	"github.com/getnvoi/conveyor/internal/commands/list"
	"github.com/getnvoi/conveyor/internal/commands/resume"
	"github.com/getnvoi/conveyor/internal/commands/run"
	"github.com/getnvoi/conveyor/internal/commands/validate"
)

// Version information (injected via ldflags at build time)
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	rootCmd := cli.NewRootCommand()
	rootCmd.Version = version + " (" + commit + ")"

	rootCmd.AddCommand(run.NewCommand())
	rootCmd.AddCommand(resume.NewCommand())
	rootCmd.AddCommand(list.NewCommand())
	rootCmd.AddCommand(validate.NewCommand())

	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}
