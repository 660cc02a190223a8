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
	"sigs.k8s.io/yaml"

	"github.com/stefanprodan/kubetpl/pkg/config"
)

var configView = &cobra.Command{
	Use: "view",
	Short: "Display the config values from '$HOME/.kubetpl/config'. " +
		"If no config file is found, the default in-memory values are displayed.",
	Example: `  # Print the config file
  kubetpl config view

  # List the fields removed from the in-cluster objects before diffing
  kubetpl config view --rules

  # Include the ignore rules of a project
  kubetpl config view --rules -c kubetpl.yaml`,
	RunE: runConfigViewCmd,
}

type configViewFlags struct {
	rules      bool
	configFile string
}

var configViewArgs configViewFlags

func init() {
	configView.Flags().BoolVar(&configViewArgs.rules, "rules", false,
		"Print the effective ignore rules per kind instead of the config file.")
	configView.Flags().StringVarP(&configViewArgs.configFile, "config-file", "c", "",
		"Path to a project file whose ignore rules are merged into the table.")

	configCmd.AddCommand(configView)
}

func runConfigViewCmd(cmd *cobra.Command, args []string) error {
	if !configViewArgs.rules {
		if configViewArgs.configFile != "" {
			return fmt.Errorf("--config-file can only be used with --rules")
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	var project *config.Project
	if configViewArgs.configFile != "" {
		p, err := config.LoadProject(appFs, configViewArgs.configFile)
		if err != nil {
			return fmt.Errorf("loading the project failed, error: %w", err)
		}
		project = p
	}

	rules, err := ignoreRules(project)
	if err != nil {
		return err
	}

	table := rules.ToTable()
	var rows [][]string
	for _, kind := range rules.Kinds() {
		for _, field := range table[kind] {
			rows = append(rows, []string{kind, field})
		}
	}
	printTable(cmd.OutOrStdout(), []string{"kind", "ignored field"}, rows)
	return nil
}
