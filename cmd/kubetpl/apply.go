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

	"github.com/spf13/cobra"

	"github.com/stefanprodan/kubetpl/pkg/applier"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply deletes the objects of the remove list, then reconciles the create list using server-side apply.",
	RunE:  runApplyCmd,
}

type applyFlags struct {
	projectFlags
	phaseFlags
	wait  bool
	force bool
}

var applyArgs applyFlags

func init() {
	applyArgs.projectFlags.addFlags(applyCmd.Flags())
	applyArgs.phaseFlags.addFlags(applyCmd.Flags())
	applyCmd.Flags().BoolVar(&applyArgs.wait, "wait", false, "Wait for the applied Kubernetes objects to become ready and the deleted ones to be terminated.")
	applyCmd.Flags().BoolVar(&applyArgs.force, "force", false, "Recreate objects that contain immutable fields changes.")

	rootCmd.AddCommand(applyCmd)
}

func runApplyCmd(cmd *cobra.Command, args []string) error {
	if err := applyArgs.phaseFlags.validate(); err != nil {
		return err
	}

	p, err := newPipeline(applyArgs.projectFlags)
	if err != nil {
		return err
	}

	p.Appliers = newApplier(applier.Options{
		Force:   applyArgs.force,
		Wait:    applyArgs.wait,
		Timeout: rootArgs.timeout,
	})
	p.Options.CreateOnly = applyArgs.create
	p.Options.RemoveOnly = applyArgs.remove

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	if applyArgs.wait {
		logger.Println("applying and waiting for resources to become ready...")
	}

	results, runErr := p.Run(ctx)

	for _, r := range results {
		for _, change := range r.Changes {
			logger.Println(change.String())
		}
	}

	logFailures(results)
	printSummary(cmd.OutOrStdout(), results)

	return runErr
}
