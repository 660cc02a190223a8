package drift

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"sigs.k8s.io/yaml"
)

func TestParseIgnoreKeys(t *testing.T) {
	var keys map[string]interface{}
	err := yaml.Unmarshal([]byte(`
metadata:
  annotations:
  generation:
spec:
  template:
    spec:
      containers:
      - terminationMessagePath:
        imagePullPolicy:
status:
`), &keys)
	if err != nil {
		t.Fatal(err)
	}

	paths, err := ParseIgnoreKeys(keys)
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, p := range paths {
		got = append(got, p.String())
	}
	expected := []string{
		"metadata.annotations",
		"metadata.generation",
		"spec.template.spec.containers[*].imagePullPolicy",
		"spec.template.spec.containers[*].terminationMessagePath",
		"status",
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}

	t.Run("keeps the leaf values", func(t *testing.T) {
		var keys map[string]interface{}
		err := yaml.Unmarshal([]byte(`
metadata:
  annotations: {}
spec:
  type: ClusterIP
  ports:
  - protocol: TCP
  finalizers:
  - ""
`), &keys)
		if err != nil {
			t.Fatal(err)
		}

		paths, err := ParseIgnoreKeys(keys)
		if err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff(map[string][]string{"Service": {
			"metadata.annotations",
			"spec.finalizers[*] == ",
			"spec.ports[*].protocol == TCP",
			"spec.type == ClusterIP",
		}}, IgnoreRules{"Service": paths}.ToTable()); diff != "" {
			t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
		}
	})

	t.Run("rejects lists with many elements", func(t *testing.T) {
		var keys map[string]interface{}
		if err := yaml.Unmarshal([]byte("spec:\n  ports:\n  - a\n  - b\n"), &keys); err != nil {
			t.Fatal(err)
		}
		if _, err := ParseIgnoreKeys(keys); err == nil {
			t.Error("expected error")
		}
	})
}

func TestIgnoreRules_Merge(t *testing.T) {
	base := mustRules(t, map[string][]string{
		"Service":   {"spec.clusterIP"},
		"Namespace": {"metadata.annotations"},
	})
	extra := mustRules(t, map[string][]string{
		"Service":    {"spec.clusterIP", "spec.ipFamilies"},
		"Deployment": {"spec.replicas"},
	})

	merged := base.Merge(extra)
	expected := map[string][]string{
		"Deployment": {"spec.replicas"},
		"Namespace":  {"metadata.annotations"},
		"Service":    {"spec.clusterIP", "spec.ipFamilies"},
	}
	if diff := cmp.Diff(expected, merged.ToTable()); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}

	if len(base["Service"]) != 1 {
		t.Error("merge modified the receiver")
	}
}

func TestIgnoreRules_For(t *testing.T) {
	var empty IgnoreRules
	if paths := empty.For("Service"); paths != nil {
		t.Errorf("expected no paths, got %v", paths)
	}

	rules := DefaultIgnoreRules()
	if diff := cmp.Diff([]string{
		"ConfigMap", "CronJob", "DaemonSet", "Deployment", "Ingress", "Job", "Namespace",
		"PersistentVolumeClaim", "Secret", "Service", "ServiceAccount", "StatefulSet",
	}, rules.Kinds()); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}

	for _, kind := range rules.Kinds() {
		found := false
		for _, p := range rules.For(kind) {
			if p.String() == "metadata.managedFields" {
				found = true
			}
		}
		if !found {
			t.Errorf("%s rules are missing the server managed fields", kind)
		}
	}

	if paths := rules.For("deployment"); paths != nil {
		t.Errorf("expected case-sensitive lookup, got %v", paths)
	}
}

func TestParseIgnoreRules(t *testing.T) {
	if _, err := ParseIgnoreRules(map[string][]string{"": {"status"}}); err == nil {
		t.Error("expected error for empty kind")
	}
	if _, err := ParseIgnoreRules(map[string][]string{"Service": {"spec..clusterIP"}}); err == nil {
		t.Error("expected error for invalid path")
	}
}
