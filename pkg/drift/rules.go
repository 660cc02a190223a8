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

package drift

import (
	"fmt"
	"sort"
	"strings"
)

// IgnoreRules maps a Kubernetes kind to the field paths that are removed
// from the in-cluster object before it is compared with the rendered one.
type IgnoreRules map[string][]Path

// For returns the paths registered for the given kind.
// The lookup is case-sensitive, unknown kinds have no rules.
func (r IgnoreRules) For(kind string) []Path {
	if r == nil {
		return nil
	}
	return r[kind]
}

// Kinds returns the kinds that have rules, sorted alphabetically.
func (r IgnoreRules) Kinds() []string {
	kinds := make([]string, 0, len(r))
	for k := range r {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Merge returns a new rule table that contains the paths of r and other.
// Paths are appended per kind, duplicates are dropped.
func (r IgnoreRules) Merge(other IgnoreRules) IgnoreRules {
	out := make(IgnoreRules, len(r)+len(other))
	for _, src := range []IgnoreRules{r, other} {
		for kind, paths := range src {
			seen := make(map[string]bool, len(out[kind]))
			for _, p := range out[kind] {
				seen[ruleText(p)] = true
			}
			for _, p := range paths {
				if seen[ruleText(p)] {
					continue
				}
				seen[ruleText(p)] = true
				out[kind] = append(out[kind], p)
			}
		}
	}
	return out
}

// ParseIgnoreRules parses a kind to textual paths table.
func ParseIgnoreRules(table map[string][]string) (IgnoreRules, error) {
	rules := make(IgnoreRules, len(table))
	for kind, paths := range table {
		if kind == "" {
			return nil, fmt.Errorf("ignore rules: kind can't be empty")
		}
		for _, s := range paths {
			p, err := ParsePath(s)
			if err != nil {
				return nil, fmt.Errorf("ignore rules for %s: %w", kind, err)
			}
			rules[kind] = append(rules[kind], p)
		}
	}
	return rules, nil
}

// ParseIgnoreKeys converts a nested ignore mapping into paths, e.g.
//
//	metadata:
//	  annotations:
//	spec:
//	  type: ClusterIP
//	status:
//
// becomes [metadata.annotations, spec.type == ClusterIP, status]. Empty leaves remove
// the field, leaves with a value remove the field only when the in-cluster value is
// equal. A list with a single element applies the element to all the items of the
// addressed list.
func ParseIgnoreKeys(keys map[string]interface{}) ([]Path, error) {
	var paths []Path
	if err := collectIgnoreKeys(keys, nil, false, &paths); err != nil {
		return nil, err
	}
	sort.Slice(paths, func(i, j int) bool {
		return ruleText(paths[i]) < ruleText(paths[j])
	})
	return paths, nil
}

func collectIgnoreKeys(node interface{}, prefix []segment, inList bool, paths *[]Path) error {
	switch v := node.(type) {
	case map[string]interface{}:
		if len(v) == 0 {
			break
		}
		for key, child := range v {
			if key == "" {
				return fmt.Errorf("ignore keys: empty key below %q", Path{segments: prefix})
			}
			next := append(append([]segment{}, prefix...), segment{kind: keySegment, key: key})
			if err := collectIgnoreKeys(child, next, false, paths); err != nil {
				return err
			}
		}
		return nil
	case []interface{}:
		if len(v) == 0 {
			break
		}
		if len(v) != 1 {
			return fmt.Errorf("ignore keys: list below %q must contain exactly one element", Path{segments: prefix})
		}
		next := append(append([]segment{}, prefix...), segment{kind: wildcardSegment})
		return collectIgnoreKeys(v[0], next, true, paths)
	}

	if len(prefix) == 0 {
		return nil
	}
	p := Path{segments: prefix}
	if !isEmptyIgnoreValue(node, inList) {
		p = p.WithValue(node)
	}
	*paths = append(*paths, p)
	return nil
}

// isEmptyIgnoreValue reports whether a nested ignore leaf removes the field
// regardless of its value. Empty strings are values inside lists.
func isEmptyIgnoreValue(v interface{}, inList bool) bool {
	switch t := v.(type) {
	case string:
		return t == "[]" || t == "{}" || (t == "" && !inList)
	}
	return isEmpty(v)
}

// ruleText returns the textual form of the path, followed by its match value.
func ruleText(p Path) string {
	if v, ok := p.Value(); ok {
		return fmt.Sprintf("%s == %v", p, v)
	}
	return p.String()
}

// serverManaged are the fields the API server sets on every object.
var serverManaged = []string{
	"metadata.creationTimestamp",
	"metadata.generation",
	"metadata.managedFields",
	"metadata.resourceVersion",
	"metadata.selfLink",
	"metadata.uid",
	`metadata.annotations["kubectl.kubernetes.io/last-applied-configuration"]`,
	"status",
}

func podTemplateDefaults(prefix string) []string {
	fields := []string{
		"metadata.creationTimestamp",
		"spec.dnsPolicy",
		"spec.restartPolicy",
		"spec.schedulerName",
		"spec.securityContext",
		"spec.terminationGracePeriodSeconds",
		"spec.containers[*].imagePullPolicy",
		"spec.containers[*].terminationMessagePath",
		"spec.containers[*].terminationMessagePolicy",
		"spec.containers[*].ports[*].protocol",
		"spec.initContainers[*].imagePullPolicy",
		"spec.initContainers[*].terminationMessagePath",
		"spec.initContainers[*].terminationMessagePolicy",
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, prefix+"."+f)
	}
	return out
}

var defaultIgnoreTable = map[string][]string{
	"Namespace": {
		`metadata.labels["kubernetes.io/metadata.name"]`,
		"spec.finalizers",
	},
	"ConfigMap": {},
	"Secret": {
		"type",
	},
	"ServiceAccount": {
		"secrets",
	},
	"Service": {
		"spec.clusterIP",
		"spec.clusterIPs",
		"spec.internalTrafficPolicy",
		"spec.ipFamilies",
		"spec.ipFamilyPolicy",
		"spec.sessionAffinity",
		"spec.ports[*].protocol",
		"spec.ports[*].targetPort",
	},
	"Ingress": {},
	"PersistentVolumeClaim": {
		`metadata.annotations["pv.kubernetes.io/bind-completed"]`,
		`metadata.annotations["pv.kubernetes.io/bound-by-controller"]`,
		`metadata.annotations["volume.beta.kubernetes.io/storage-provisioner"]`,
		`metadata.annotations["volume.kubernetes.io/storage-provisioner"]`,
		"metadata.finalizers",
		"spec.storageClassName",
		"spec.volumeMode",
		"spec.volumeName",
	},
	"Deployment": append([]string{
		`metadata.annotations["deployment.kubernetes.io/revision"]`,
		"spec.progressDeadlineSeconds",
		"spec.revisionHistoryLimit",
		"spec.strategy",
	}, podTemplateDefaults("spec.template")...),
	"StatefulSet": append([]string{
		"spec.persistentVolumeClaimRetentionPolicy",
		"spec.podManagementPolicy",
		"spec.revisionHistoryLimit",
		"spec.updateStrategy",
	}, podTemplateDefaults("spec.template")...),
	"DaemonSet": append([]string{
		"spec.revisionHistoryLimit",
		"spec.updateStrategy",
	}, podTemplateDefaults("spec.template")...),
	"Job": append([]string{
		"spec.backoffLimit",
		"spec.completionMode",
		"spec.completions",
		"spec.parallelism",
		"spec.selector",
		"spec.suspend",
		`spec.template.metadata.labels["controller-uid"]`,
		`spec.template.metadata.labels["job-name"]`,
	}, podTemplateDefaults("spec.template")...),
	"CronJob": append([]string{
		"spec.concurrencyPolicy",
		"spec.failedJobsHistoryLimit",
		"spec.successfulJobsHistoryLimit",
		"spec.suspend",
	}, podTemplateDefaults("spec.jobTemplate.spec.template")...),
}

// DefaultIgnoreRules returns the built-in table of server-injected fields.
// The table is a starting point, users extend it from the config files.
func DefaultIgnoreRules() IgnoreRules {
	table := make(map[string][]string, len(defaultIgnoreTable))
	for kind, fields := range defaultIgnoreTable {
		table[kind] = append(append([]string{}, serverManaged...), fields...)
	}
	rules, err := ParseIgnoreRules(table)
	if err != nil {
		panic(fmt.Sprintf("invalid default ignore rules: %v", err))
	}
	return rules
}

// ToTable returns the textual form of the rules.
// Paths with a match value are printed as 'path == value'.
func (r IgnoreRules) ToTable() map[string][]string {
	table := make(map[string][]string, len(r))
	for kind, paths := range r {
		fields := make([]string, 0, len(paths))
		for _, p := range paths {
			fields = append(fields, ruleText(p))
		}
		table[kind] = fields
	}
	return table
}

func (r IgnoreRules) String() string {
	var b strings.Builder
	for _, kind := range r.Kinds() {
		b.WriteString(kind)
		b.WriteString(": ")
		for i, p := range r[kind] {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(ruleText(p))
		}
		b.WriteString("\n")
	}
	return b.String()
}
