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
	"strings"

	"github.com/imdario/mergo"
	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"
)

// ParseVars parses 'key=value' pairs, values are decoded as YAML scalars
// so that '--var replicas=2' yields a number.
func ParseVars(pairs []string) (map[string]interface{}, error) {
	vars := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, fmt.Errorf("invalid variable %q, must be in the format key=value", pair)
		}

		var value interface{}
		if err := yaml.Unmarshal([]byte(kv[1]), &value); err != nil || value == nil {
			value = kv[1]
		}
		vars[kv[0]] = value
	}
	return vars, nil
}

// ReadVarsFile reads template variables from a YAML file.
func ReadVarsFile(fs afero.Fs, path string) (map[string]interface{}, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}

	vars := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &vars); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vars, nil
}

// MergeVars merges the variable layers into a new map, later layers win.
// Nested maps are merged key by key.
func MergeVars(layers ...map[string]interface{}) (map[string]interface{}, error) {
	merged := map[string]interface{}{}
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		if err := mergo.Merge(&merged, deepCopyVars(layer), mergo.WithOverride); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

func deepCopyVars(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		if m, ok := v.(map[string]interface{}); ok {
			out[k] = deepCopyVars(m)
			continue
		}
		out[k] = v
	}
	return out
}
