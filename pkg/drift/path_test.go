package drift

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		segments []segment
		text     string
		wantErr  bool
	}{
		{
			name: "dotted keys",
			path: "metadata.annotations",
			segments: []segment{
				{kind: keySegment, key: "metadata"},
				{kind: keySegment, key: "annotations"},
			},
			text: "metadata.annotations",
		},
		{
			name: "wildcard",
			path: "spec.containers[*].image",
			segments: []segment{
				{kind: keySegment, key: "spec"},
				{kind: keySegment, key: "containers"},
				{kind: wildcardSegment},
				{kind: keySegment, key: "image"},
			},
			text: "spec.containers[*].image",
		},
		{
			name: "index",
			path: "spec.ports[1]",
			segments: []segment{
				{kind: keySegment, key: "spec"},
				{kind: keySegment, key: "ports"},
				{kind: indexSegment, index: 1},
			},
			text: "spec.ports[1]",
		},
		{
			name: "quoted key",
			path: `metadata.annotations["deployment.kubernetes.io/revision"]`,
			segments: []segment{
				{kind: keySegment, key: "metadata"},
				{kind: keySegment, key: "annotations"},
				{kind: keySegment, key: "deployment.kubernetes.io/revision"},
			},
			text: `metadata.annotations["deployment.kubernetes.io/revision"]`,
		},
		{
			name: "single quoted key",
			path: `metadata.labels['app.kubernetes.io/name']`,
			segments: []segment{
				{kind: keySegment, key: "metadata"},
				{kind: keySegment, key: "labels"},
				{kind: keySegment, key: "app.kubernetes.io/name"},
			},
			text: `metadata.labels["app.kubernetes.io/name"]`,
		},
		{name: "empty", path: "", wantErr: true},
		{name: "leading dot", path: ".metadata", wantErr: true},
		{name: "trailing dot", path: "metadata.", wantErr: true},
		{name: "double dot", path: "metadata..name", wantErr: true},
		{name: "unterminated bracket", path: "spec.ports[0", wantErr: true},
		{name: "negative index", path: "spec.ports[-1]", wantErr: true},
		{name: "missing dot", path: "spec.ports[0]name", wantErr: true},
		{name: "unterminated quote", path: `metadata.labels["app]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePath(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.path)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.segments, p.segments, cmp.AllowUnexported(segment{})); diff != "" {
				t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.text, p.String()); diff != "" {
				t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPath_JSON(t *testing.T) {
	var paths []Path
	if err := json.Unmarshal([]byte(`["status", "spec.ports[*].protocol"]`), &paths); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(paths)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(`["status","spec.ports[*].protocol"]`, string(data)); diff != "" {
		t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
	}

	if err := json.Unmarshal([]byte(`[1]`), &paths); err == nil {
		t.Error("expected error for non-string path")
	}
}

func TestPath_Delete(t *testing.T) {
	newObject := func() map[string]interface{} {
		return map[string]interface{}{
			"metadata": map[string]interface{}{
				"name": "podinfo",
				"annotations": map[string]interface{}{
					"a.b/c": "1",
					"keep":  "2",
				},
			},
			"spec": map[string]interface{}{
				"containers": []interface{}{
					map[string]interface{}{"name": "app", "image": "app:1"},
					map[string]interface{}{"name": "sidecar", "image": "sidecar:1"},
				},
				"ports": []interface{}{int64(80), int64(443)},
			},
		}
	}

	tests := []struct {
		name     string
		path     string
		removed  bool
		expected func(obj map[string]interface{})
	}{
		{
			name:    "map key",
			path:    "metadata.annotations",
			removed: true,
			expected: func(obj map[string]interface{}) {
				delete(obj["metadata"].(map[string]interface{}), "annotations")
			},
		},
		{
			name:    "quoted key",
			path:    `metadata.annotations["a.b/c"]`,
			removed: true,
			expected: func(obj map[string]interface{}) {
				delete(obj["metadata"].(map[string]interface{})["annotations"].(map[string]interface{}), "a.b/c")
			},
		},
		{
			name:    "field of every list item",
			path:    "spec.containers[*].image",
			removed: true,
			expected: func(obj map[string]interface{}) {
				for _, c := range obj["spec"].(map[string]interface{})["containers"].([]interface{}) {
					delete(c.(map[string]interface{}), "image")
				}
			},
		},
		{
			name:    "list element",
			path:    "spec.ports[0]",
			removed: true,
			expected: func(obj map[string]interface{}) {
				obj["spec"].(map[string]interface{})["ports"] = []interface{}{int64(443)}
			},
		},
		{
			name:    "all list elements",
			path:    "spec.ports[*]",
			removed: true,
			expected: func(obj map[string]interface{}) {
				obj["spec"].(map[string]interface{})["ports"] = []interface{}{}
			},
		},
		{
			name:     "missing key",
			path:     "metadata.labels.app",
			expected: func(obj map[string]interface{}) {},
		},
		{
			name:     "index out of range",
			path:     "spec.containers[2].image",
			expected: func(obj map[string]interface{}) {},
		},
		{
			name:     "type mismatch",
			path:     "metadata.name.first",
			expected: func(obj map[string]interface{}) {},
		},
		{
			name:     "wildcard on map",
			path:     "metadata.annotations[*]",
			expected: func(obj map[string]interface{}) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj := newObject()
			removed := MustParsePath(tt.path).Delete(obj)
			if removed != tt.removed {
				t.Errorf("expected removed %v, got %v", tt.removed, removed)
			}

			expected := newObject()
			tt.expected(expected)
			if diff := cmp.Diff(expected, obj); diff != "" {
				t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPath_Prune(t *testing.T) {
	newLive := func() map[string]interface{} {
		return map[string]interface{}{
			"metadata": map[string]interface{}{
				"name":        "apps",
				"labels":      map[string]interface{}{"kubernetes.io/metadata.name": "apps"},
				"annotations": map[string]interface{}{},
			},
			"spec": map[string]interface{}{
				"type": "ClusterIP",
				"ports": []interface{}{
					map[string]interface{}{"port": int64(80), "protocol": "TCP", "targetPort": int64(8080)},
					map[string]interface{}{"port": int64(443), "protocol": "TCP", "targetPort": int64(8443)},
				},
			},
		}
	}

	t.Run("drops the maps emptied by the deletion", func(t *testing.T) {
		obj := newLive()
		if !MustParsePath(`metadata.labels["kubernetes.io/metadata.name"]`).Prune(obj, nil) {
			t.Fatal("expected field to be removed")
		}
		if MustParsePath("metadata.annotations.missing").Prune(obj, nil) {
			t.Fatal("expected no removal")
		}

		expected := newLive()
		delete(expected["metadata"].(map[string]interface{}), "labels")
		if diff := cmp.Diff(expected, obj); diff != "" {
			t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
		}
	})

	t.Run("keeps the fields set by the declared object", func(t *testing.T) {
		obj := newLive()
		declared := map[string]interface{}{
			"metadata": map[string]interface{}{
				"labels": map[string]interface{}{"kubernetes.io/metadata.name": "apps"},
			},
			"spec": map[string]interface{}{
				"ports": []interface{}{
					map[string]interface{}{"port": int64(80), "targetPort": int64(8080)},
					map[string]interface{}{"port": int64(443)},
				},
			},
		}

		MustParsePath(`metadata.labels["kubernetes.io/metadata.name"]`).Prune(obj, declared)
		MustParsePath("spec.ports[*].protocol").Prune(obj, declared)
		MustParsePath("spec.ports[*].targetPort").Prune(obj, declared)

		expected := newLive()
		ports := expected["spec"].(map[string]interface{})["ports"].([]interface{})
		delete(ports[0].(map[string]interface{}), "protocol")
		delete(ports[1].(map[string]interface{}), "protocol")
		delete(ports[1].(map[string]interface{}), "targetPort")
		if diff := cmp.Diff(expected, obj); diff != "" {
			t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
		}
	})

	t.Run("keeps the declared list items", func(t *testing.T) {
		obj := map[string]interface{}{"finalizers": []interface{}{"a", "b", "c"}}
		declared := map[string]interface{}{"finalizers": []interface{}{"a"}}

		if !MustParsePath("finalizers[*]").Prune(obj, declared) {
			t.Fatal("expected items to be removed")
		}
		if diff := cmp.Diff(map[string]interface{}{"finalizers": []interface{}{"a"}}, obj); diff != "" {
			t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
		}
	})

	t.Run("removes only the fields equal to the match value", func(t *testing.T) {
		obj := newLive()
		if MustParsePath("spec.type").WithValue("LoadBalancer").Prune(obj, nil) {
			t.Error("expected no removal for a different value")
		}
		if !MustParsePath("spec.ports[*].targetPort").WithValue(float64(8080)).Prune(obj, nil) {
			t.Error("expected removal for an equal value")
		}

		expected := newLive()
		ports := expected["spec"].(map[string]interface{})["ports"].([]interface{})
		delete(ports[0].(map[string]interface{}), "targetPort")
		if diff := cmp.Diff(expected, obj); diff != "" {
			t.Errorf("Mismatch from expected value (-want +got):\n%s", diff)
		}
	})
}
