/*
Copyright 2021 Stefan Prodan.
Copyright 2020 The Kubernetes Authors.

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

package objectutil

import (
	"sort"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/cli-utils/pkg/object"
)

// ApplyOrder sorts objects in the order they should be created on a cluster.
// Removal uses the reverse order.
type ApplyOrder []*unstructured.Unstructured

var _ sort.Interface = ApplyOrder{}

func (a ApplyOrder) Len() int      { return len(a) }
func (a ApplyOrder) Swap(i, j int) { a[i], a[j] = a[j], a[i] }
func (a ApplyOrder) Less(i, j int) bool {
	first := object.UnstructuredToObjMetadata(a[i])
	second := object.UnstructuredToObjMetadata(a[j])

	ri, rj := rankOfKind(first.GroupKind.Kind), rankOfKind(second.GroupKind.Kind)
	if ri != rj {
		return ri < rj
	}
	if first.GroupKind.Group != second.GroupKind.Group {
		return first.GroupKind.Group < second.GroupKind.Group
	}
	if first.GroupKind.Kind != second.GroupKind.Kind {
		return first.GroupKind.Kind < second.GroupKind.Kind
	}
	// In case of tie, compare the namespace and name combination so that the output
	// order is consistent irrespective of input order
	if first.Namespace != second.Namespace {
		return first.Namespace < second.Namespace
	}
	return first.Name < second.Name
}

var kindRank = func() map[string]int {
	// Namespace should be first, webhooks last.
	// In some cases order just specified to provide determinism.
	first := []string{
		"CustomResourceDefinition",
		"Namespace",
		"ResourceQuota",
		"StorageClass",
		"ServiceAccount",
		"PodSecurityPolicy",
		"Role",
		"ClusterRole",
		"RoleBinding",
		"ClusterRoleBinding",
		"ConfigMap",
		"Secret",
		"Service",
		"LimitRange",
		"PriorityClass",
		"Deployment",
		"StatefulSet",
		"CronJob",
		"PodDisruptionBudget",
	}
	last := []string{
		"MutatingWebhookConfiguration",
		"ValidatingWebhookConfiguration",
	}
	ranks := make(map[string]int, len(first)+len(last))
	for i, n := range first {
		ranks[n] = -len(first) + i
	}
	for i, n := range last {
		ranks[n] = 1 + i
	}
	return ranks
}()

func rankOfKind(kind string) int {
	return kindRank[kind]
}
