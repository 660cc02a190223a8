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

package render

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/spf13/afero"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/kustomize/api/krusty"
	kustypes "sigs.k8s.io/kustomize/api/types"
	"sigs.k8s.io/kustomize/kyaml/filesys"
	"sigs.k8s.io/yaml"

	"github.com/stefanprodan/kubetpl/pkg/objectutil"
)

var kustomizeBuildMutex sync.Mutex

// ApplyPatches runs the patches listed in the kustomization file at patchFile
// against the given objects and returns the patched objects.
func (r *Renderer) ApplyPatches(objects []*unstructured.Unstructured, patchFile string) ([]*unstructured.Unstructured, error) {
	data, err := afero.ReadFile(r.fs, patchFile)
	if err != nil {
		return nil, err
	}

	template := kustypes.Kustomization{
		TypeMeta: kustypes.TypeMeta{
			APIVersion: kustypes.KustomizationVersion,
			Kind:       kustypes.KustomizationKind,
		},
	}
	if err := yaml.Unmarshal(data, &template); err != nil {
		return nil, fmt.Errorf("%s: %w", patchFile, err)
	}

	if len(template.Patches) == 0 && len(template.PatchesStrategicMerge) == 0 && len(template.PatchesJson6902) == 0 {
		return nil, fmt.Errorf("no patches found in %s", patchFile)
	}

	out, err := buildPatched(objects, template)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", patchFile, err)
	}

	return objectutil.ReadObjects(bytes.NewReader(out))
}

func buildPatched(objects []*unstructured.Unstructured, template kustypes.Kustomization) ([]byte, error) {
	kustomizeBuildMutex.Lock()
	defer kustomizeBuildMutex.Unlock()

	fs := filesys.MakeFsInMemory()

	const input = "resources.yaml"
	yml, err := objectutil.ObjectsToYAML(objects)
	if err != nil {
		return nil, err
	}
	if err := fs.WriteFile(input, []byte(yml)); err != nil {
		return nil, err
	}

	kustomization := kustypes.Kustomization{}
	kustomization.APIVersion = kustypes.KustomizationVersion
	kustomization.Kind = kustypes.KustomizationKind
	kustomization.Resources = []string{input}
	kustomization.Patches = template.Patches
	kustomization.PatchesStrategicMerge = template.PatchesStrategicMerge
	kustomization.PatchesJson6902 = template.PatchesJson6902

	d, err := yaml.Marshal(kustomization)
	if err != nil {
		return nil, err
	}
	if err := fs.WriteFile("kustomization.yaml", d); err != nil {
		return nil, err
	}

	k := krusty.MakeKustomizer(krusty.MakeDefaultOptions())
	m, err := k.Run(fs, ".")
	if err != nil {
		return nil, err
	}

	return m.AsYaml()
}
