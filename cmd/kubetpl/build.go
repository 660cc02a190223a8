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
	"fmt"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/stefanprodan/kubetpl/pkg/objectutil"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build renders the templates of the project create list and prints the multi-doc to stdout.",
	RunE:  runBuildCmd,
}

type buildFlags struct {
	projectFlags
	output string
}

var buildArgs buildFlags

func init() {
	buildArgs.projectFlags.addFlags(buildCmd.Flags())
	buildCmd.Flags().StringVarP(&buildArgs.output, "output", "o", "yaml",
		"Write manifests to stdout in YAML or JSON format.")

	rootCmd.AddCommand(buildCmd)
}

func runBuildCmd(cmd *cobra.Command, args []string) error {
	if buildArgs.output != "yaml" && buildArgs.output != "json" {
		return fmt.Errorf("unsupported output format %q, can be yaml or json", buildArgs.output)
	}

	p, err := newPipeline(buildArgs.projectFlags)
	if err != nil {
		return err
	}

	results, err := p.Render()
	if err != nil {
		logFailures(results)
		return err
	}

	var objects []*unstructured.Unstructured
	for _, r := range results {
		objects = append(objects, r.Objects...)
	}

	switch buildArgs.output {
	case "yaml":
		yml, err := objectutil.ObjectsToYAML(objects)
		if err != nil {
			return err
		}
		cmd.OutOrStdout().Write([]byte(yml))
	case "json":
		json, err := objectutil.ObjectsToJSON(objects)
		if err != nil {
			return err
		}
		cmd.OutOrStdout().Write([]byte(json))
	}

	return nil
}
