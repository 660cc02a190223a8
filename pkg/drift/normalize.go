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
	"encoding/base64"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/stefanprodan/kubetpl/pkg/objectutil"
)

// driftMask replaces in-cluster Secret values that differ from the rendered ones,
// so that masked diffs still show which keys changed.
const driftMask = "*****"

// normalizeCandidate returns a copy of the rendered object in the form the API server stores it.
// Secret stringData is merged into data as base64, the way the API server persists it.
func normalizeCandidate(candidate *unstructured.Unstructured) *unstructured.Unstructured {
	obj := candidate.DeepCopy()
	if obj.GetKind() != "Secret" {
		return obj
	}

	stringData, found, err := unstructured.NestedMap(obj.Object, "stringData")
	if err != nil || !found {
		return obj
	}

	data, _, err := unstructured.NestedMap(obj.Object, "data")
	if err != nil {
		return obj
	}
	if data == nil {
		data = make(map[string]interface{}, len(stringData))
	}
	for k, v := range stringData {
		data[k] = base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%v", v)))
	}

	if err := unstructured.SetNestedMap(obj.Object, data, "data"); err != nil {
		return obj
	}
	unstructured.RemoveNestedField(obj.Object, "stringData")
	return obj
}

// maskSecretPair masks the Secret data values of both objects. Values that differ
// get distinct masks so that the change is still visible in the diff.
func maskSecretPair(live, rendered *unstructured.Unstructured) {
	for _, field := range []string{"data", "stringData"} {
		liveData, _, _ := unstructured.NestedMap(live.Object, field)
		renderedData, _, _ := unstructured.NestedMap(rendered.Object, field)

		for k, v := range renderedData {
			if lv, ok := liveData[k]; ok && fmt.Sprint(lv) != fmt.Sprint(v) {
				liveData[k] = driftMask
			} else if ok {
				liveData[k] = objectutil.SecretMask
			}
			renderedData[k] = objectutil.SecretMask
		}
		for k := range liveData {
			if _, ok := renderedData[k]; !ok {
				liveData[k] = objectutil.SecretMask
			}
		}

		if liveData != nil {
			_ = unstructured.SetNestedMap(live.Object, liveData, field)
		}
		if renderedData != nil {
			_ = unstructured.SetNestedMap(rendered.Object, renderedData, field)
		}
	}
}

// dropEmpty removes the empty values from the given tree.
// Empty strings are kept inside lists, they are valid list elements.
func dropEmpty(node interface{}) interface{} {
	switch v := node.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, child := range v {
			child = dropEmpty(child)
			if isEmpty(child) || child == "" {
				continue
			}
			out[key] = child
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, item := range v {
			item = dropEmpty(item)
			if isEmpty(item) {
				continue
			}
			out = append(out, item)
		}
		return out
	}
	return node
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case map[string]interface{}:
		return len(t) == 0
	case []interface{}:
		return len(t) == 0
	}
	return false
}
