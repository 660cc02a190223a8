/*
Copyright 2021 Stefan Prodan

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stefanprodan/kubetpl/pkg/drift"
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Diff compares the rendered objects with the in-cluster ones and prints the unified diff to stdout.",
	Long: `Diff renders the project templates and compares the objects with their in-cluster counterparts.
The fields set by the API server are removed from the in-cluster objects before the comparison,
using the built-in ignore rules extended with the ones from the config and project files.
Objects of the remove list are reported as deleted when they exist in-cluster.`,
	RunE: runDiffCmd,
}

type diffFlags struct {
	projectFlags
	phaseFlags
	contextLines int
}

var diffArgs diffFlags

func init() {
	diffArgs.projectFlags.addFlags(diffCmd.Flags())
	diffArgs.phaseFlags.addFlags(diffCmd.Flags())
	diffCmd.Flags().IntVarP(&diffArgs.contextLines, "unified", "U", drift.DefaultContextLines,
		"Number of unchanged lines printed around each change.")

	rootCmd.AddCommand(diffCmd)
}

func runDiffCmd(cmd *cobra.Command, args []string) error {
	if err := diffArgs.phaseFlags.validate(); err != nil {
		return err
	}

	p, err := newPipeline(diffArgs.projectFlags)
	if err != nil {
		return err
	}

	p.Differ, err = newDiffer(p.Project, diffArgs.contextLines)
	if err != nil {
		return err
	}

	p.Options.DryRun = true
	p.Options.CreateOnly = diffArgs.create
	p.Options.RemoveOnly = diffArgs.remove

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	results, runErr := p.Run(ctx)

	for _, r := range results {
		for _, d := range r.Diffs {
			switch d.Action {
			case drift.CreatedAction:
				logger.Actionf("%s created", d.Subject)
				fmt.Fprint(cmd.OutOrStdout(), d.Unified)
			case drift.DeletedAction:
				logger.Actionf("%s deleted", d.Subject)
			case drift.ConfiguredAction:
				logger.Actionf("%s drifted", d.Subject)
				fmt.Fprint(cmd.OutOrStdout(), d.Unified)
			}
		}
	}

	logFailures(results)
	printSummary(cmd.OutOrStdout(), results)

	return runErr
}
