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

package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/stefanprodan/kubetpl/pkg/cluster"
	"github.com/stefanprodan/kubetpl/pkg/drift"
)

const (
	ProjectKind     = "Project"
	ProjectFileName = "kubetpl.yaml"
)

// Project describes the templates to remove and create on the clusters.
type Project struct {
	metav1.TypeMeta `json:",inline"`

	// Defaults holds the connection used by items that don't set their own.
	Defaults cluster.Connection `json:"defaults,omitempty"`

	// Vars holds the template variables shared by all items.
	Vars map[string]interface{} `json:"vars,omitempty"`

	// Ignore holds the fields removed from the in-cluster objects before diffing, per kind.
	Ignore map[string][]string `json:"ignore,omitempty"`

	// IgnoreKeys holds ignore rules in the nested format, per kind.
	IgnoreKeys map[string]map[string]interface{} `json:"ignore_keys,omitempty"`

	// Remove lists the templates whose objects are deleted, processed first.
	Remove []Item `json:"remove,omitempty"`

	// Create lists the templates whose objects are applied, processed after Remove.
	Create []Item `json:"create,omitempty"`

	dir string
}

// Item is a template entry of the project.
type Item struct {
	// Template is the path to the template, relative to the project file.
	Template string `json:"template"`

	// Tag and Tags are used to select items from the command line.
	Tag  string   `json:"tag,omitempty"`
	Tags []string `json:"tags,omitempty"`

	// Connection overrides the project defaults.
	cluster.Connection `json:",inline"`

	// Vars overrides the project variables.
	Vars map[string]interface{} `json:"vars,omitempty"`

	// Patches is the path to a kustomization file that contains patches,
	// relative to the project file.
	Patches string `json:"patches,omitempty"`

	// KubeVersion is a semver constraint the cluster version must satisfy.
	KubeVersion string `json:"kube_version,omitempty"`
}

// AllTags returns the tag and tags of the item.
func (i Item) AllTags() []string {
	tags := make([]string, 0, len(i.Tags)+1)
	if i.Tag != "" {
		tags = append(tags, i.Tag)
	}
	return append(tags, i.Tags...)
}

// Dir returns the directory of the project file.
func (p *Project) Dir() string {
	return p.dir
}

// Rules returns the ignore rules of the project, both formats merged.
func (p *Project) Rules() (drift.IgnoreRules, error) {
	rules, err := drift.ParseIgnoreRules(p.Ignore)
	if err != nil {
		return nil, err
	}
	for kind, keys := range p.IgnoreKeys {
		paths, err := drift.ParseIgnoreKeys(keys)
		if err != nil {
			return nil, fmt.Errorf("ignore keys for %s: %w", kind, err)
		}
		rules = rules.Merge(drift.IgnoreRules{kind: paths})
	}
	return rules, nil
}

// LoadProject reads the project file and resolves the item paths against its directory.
func LoadProject(fs afero.Fs, path string) (*Project, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}

	project := &Project{}
	if err := yaml.Unmarshal(data, project); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if project.Kind != "" && project.Kind != ProjectKind {
		return nil, fmt.Errorf("%s: expected kind %s, got %s", path, ProjectKind, project.Kind)
	}

	project.dir = filepath.Dir(path)

	for phase, items := range map[string][]Item{"remove": project.Remove, "create": project.Create} {
		for i := range items {
			if items[i].Template == "" {
				return nil, fmt.Errorf("%s: %s #%d: template is required", path, phase, i)
			}
			items[i].Template = project.resolve(items[i].Template)
			if items[i].Patches != "" {
				items[i].Patches = project.resolve(items[i].Patches)
			}
		}
	}

	if _, err := project.Rules(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return project, nil
}

func (p *Project) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.dir, path)
}
