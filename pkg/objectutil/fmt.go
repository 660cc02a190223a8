/*
Copyright 2021 Stefan Prodan
Copyright 2021 The Flux authors

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
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/cli-utils/pkg/object"
)

const fmtSeparator = "/"

// SecretMask is the value that replaces Secret data in diffs and logs.
const SecretMask = "******"

// FmtObjMetadata returns the object ID in the format <kind>/<namespace>/<name>.
func FmtObjMetadata(obj object.ObjMetadata) string {
	var builder strings.Builder
	builder.WriteString(obj.GroupKind.Kind + fmtSeparator)
	if obj.Namespace != "" {
		builder.WriteString(obj.Namespace + fmtSeparator)
	}
	builder.WriteString(obj.Name)
	return builder.String()
}

// FmtUnstructured returns the object ID in the format <kind>/<namespace>/<name>.
func FmtUnstructured(obj *unstructured.Unstructured) string {
	return FmtObjMetadata(object.UnstructuredToObjMetadata(obj))
}

// MaskSecret replaces the data and stringData values of the given Secret with the mask.
// Objects of other kinds are left untouched.
func MaskSecret(obj *unstructured.Unstructured, mask string) error {
	if obj == nil || obj.GetKind() != "Secret" {
		return nil
	}

	for _, field := range []string{"data", "stringData"} {
		data, found, err := unstructured.NestedMap(obj.Object, field)
		if err != nil {
			return err
		}
		if !found {
			continue
		}

		for k := range data {
			data[k] = mask
		}

		if err := unstructured.SetNestedMap(obj.Object, data, field); err != nil {
			return err
		}
	}

	return nil
}
