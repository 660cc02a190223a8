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

	"github.com/spf13/pflag"

	"github.com/stefanprodan/kubetpl/pkg/config"
	"github.com/stefanprodan/kubetpl/pkg/drift"
	"github.com/stefanprodan/kubetpl/pkg/pipeline"
	"github.com/stefanprodan/kubetpl/pkg/render"
)

// projectFlags are shared by the commands that process the project file.
type projectFlags struct {
	configFile  string
	tags        []string
	vars        []string
	varsFile    string
	concurrency int
}

func (f *projectFlags) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configFile, "config-file", "c", config.ProjectFileName,
		"Path to the project file that lists the templates.")
	fs.StringSliceVar(&f.tags, "tag", nil,
		"Process only the items that have one of the tags.")
	fs.StringArrayVar(&f.vars, "var", nil,
		"Template variable in the format 'key=value', overrides the project and the vars file values.")
	fs.StringVar(&f.varsFile, "vars-file", "",
		"Path to a YAML file that contains template variables.")
	fs.IntVar(&f.concurrency, "concurrency", 0,
		"Number of items processed in parallel, defaults to the config value.")
}

// phaseFlags select the project lists to process.
type phaseFlags struct {
	create bool
	remove bool
}

func (f *phaseFlags) addFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&f.create, "create", false, "Process only the create list.")
	fs.BoolVar(&f.remove, "remove", false, "Process only the remove list.")
}

func (f *phaseFlags) validate() error {
	if f.create && f.remove {
		return fmt.Errorf("--create and --remove are mutually exclusive")
	}
	return nil
}

// newPipeline loads the project file and the variables given on the command line.
func newPipeline(flags projectFlags) (*pipeline.Pipeline, error) {
	project, err := config.LoadProject(appFs, flags.configFile)
	if err != nil {
		return nil, fmt.Errorf("loading the project failed, error: %w", err)
	}

	var fileVars map[string]interface{}
	if flags.varsFile != "" {
		fileVars, err = config.ReadVarsFile(appFs, flags.varsFile)
		if err != nil {
			return nil, fmt.Errorf("loading the vars file failed, error: %w", err)
		}
	}

	cliVars, err := config.ParseVars(flags.vars)
	if err != nil {
		return nil, err
	}

	vars, err := config.MergeVars(fileVars, cliVars)
	if err != nil {
		return nil, err
	}

	concurrency := flags.concurrency
	if concurrency < 1 {
		concurrency = cfg.Concurrency
	}

	return &pipeline.Pipeline{
		Project:  project,
		Renderer: render.NewRenderer(appFs),
		Readers:  newReader,
		Options: pipeline.Options{
			Tags:        flags.tags,
			Concurrency: concurrency,
			Vars:        vars,
			Connection:  cliConnection(),
		},
	}, nil
}

// ignoreRules returns the built-in rules merged with the user config and,
// when a project is given, the project ones.
func ignoreRules(project *config.Project) (drift.IgnoreRules, error) {
	rules, err := cfg.Rules()
	if err != nil {
		return nil, err
	}
	if project == nil {
		return rules, nil
	}

	projectRules, err := project.Rules()
	if err != nil {
		return nil, err
	}
	return rules.Merge(projectRules), nil
}

// newDiffer returns a differ with the built-in, user config and project ignore rules.
func newDiffer(project *config.Project, contextLines int) (*drift.Differ, error) {
	rules, err := ignoreRules(project)
	if err != nil {
		return nil, err
	}

	return &drift.Differ{
		Rules:        rules,
		IgnoreEmpty:  cfg.IgnoreEmpty,
		MaskSecrets:  cfg.MaskSecrets == nil || *cfg.MaskSecrets,
		ContextLines: contextLines,
	}, nil
}
