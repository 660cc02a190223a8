package objectutil

import (
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func TestReadObjects(t *testing.T) {
	input := `---
# leading comment
---
apiVersion: v1
kind: Namespace
metadata:
  name: apps
---
apiVersion: v1
kind: List
items:
- apiVersion: v1
  kind: ConfigMap
  metadata:
    name: first
    namespace: apps
- apiVersion: v1
  kind: ConfigMap
  metadata:
    name: second
    namespace: apps
---
{"apiVersion": "v1", "kind": "Secret", "metadata": {"name": "creds", "namespace": "apps"}}
---
`
	objects, err := ReadObjects(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, obj := range objects {
		got = append(got, FmtUnstructured(obj))
	}
	expected := []string{
		"Namespace/apps",
		"ConfigMap/apps/first",
		"ConfigMap/apps/second",
		"Secret/apps/creds",
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}

	if _, err := ReadObjects(strings.NewReader("metadata: [\n")); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestApplyOrder(t *testing.T) {
	input := `---
apiVersion: admissionregistration.k8s.io/v1
kind: ValidatingWebhookConfiguration
metadata:
  name: webhook
---
apiVersion: apps/v1
kind: Deployment
metadata:
  name: b
  namespace: apps
---
apiVersion: apps/v1
kind: Deployment
metadata:
  name: a
  namespace: apps
---
apiVersion: v1
kind: Namespace
metadata:
  name: apps
---
apiVersion: apiextensions.k8s.io/v1
kind: CustomResourceDefinition
metadata:
  name: tests.example.com
---
apiVersion: example.com/v1
kind: Test
metadata:
  name: test
  namespace: apps
`
	objects, err := ReadObjects(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}

	sort.Sort(ApplyOrder(objects))

	var got []string
	for _, obj := range objects {
		got = append(got, FmtUnstructured(obj))
	}
	expected := []string{
		"CustomResourceDefinition/tests.example.com",
		"Namespace/apps",
		"Deployment/apps/a",
		"Deployment/apps/b",
		"Test/apps/test",
		"ValidatingWebhookConfiguration/webhook",
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}

	if !IsClusterDefinition(objects[0]) || !IsClusterDefinition(objects[1]) || IsClusterDefinition(objects[2]) {
		t.Error("unexpected cluster definition detection")
	}
}

func TestMaskSecret(t *testing.T) {
	secret := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Secret",
		"metadata":   map[string]interface{}{"name": "creds"},
		"data":       map[string]interface{}{"password": "c2VjcmV0"},
		"stringData": map[string]interface{}{"token": "secret"},
	}}
	if err := MaskSecret(secret, SecretMask); err != nil {
		t.Fatal(err)
	}
	expected := map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Secret",
		"metadata":   map[string]interface{}{"name": "creds"},
		"data":       map[string]interface{}{"password": SecretMask},
		"stringData": map[string]interface{}{"token": SecretMask},
	}
	if diff := cmp.Diff(expected, secret.Object); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}

	cm := &unstructured.Unstructured{Object: map[string]interface{}{
		"kind": "ConfigMap",
		"data": map[string]interface{}{"key": "value"},
	}}
	if err := MaskSecret(cm, SecretMask); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff("value", cm.Object["data"].(map[string]interface{})["key"]); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}
}
