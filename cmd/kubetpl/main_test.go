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

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/fluxcd/pkg/ssa"
	"github.com/mattn/go-shellwords"
	"github.com/spf13/afero"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/stefanprodan/kubetpl/pkg/applier"
	"github.com/stefanprodan/kubetpl/pkg/cluster"
	"github.com/stefanprodan/kubetpl/pkg/config"
	"github.com/stefanprodan/kubetpl/pkg/drift"
	"github.com/stefanprodan/kubetpl/pkg/objectutil"
	"github.com/stefanprodan/kubetpl/pkg/pipeline"
)

// fakeCluster stands in for the API server of every connection.
type fakeCluster struct {
	mu      sync.Mutex
	objects map[string]*unstructured.Unstructured
	applied []string
	conns   []cluster.Connection
	opts    applier.Options
}

var testCluster *fakeCluster

func TestMain(m *testing.M) {
	newReader = func(conn cluster.Connection) (pipeline.LiveReader, error) {
		testCluster.mu.Lock()
		defer testCluster.mu.Unlock()
		testCluster.conns = append(testCluster.conns, conn)
		return testCluster, nil
	}
	newApplier = func(opts applier.Options) pipeline.ApplierFactory {
		return func(conn cluster.Connection) (pipeline.ObjectApplier, error) {
			testCluster.mu.Lock()
			defer testCluster.mu.Unlock()
			testCluster.opts = opts
			return testCluster, nil
		}
	}

	os.Exit(m.Run())
}

func resetCluster(objects ...*unstructured.Unstructured) {
	testCluster = &fakeCluster{objects: map[string]*unstructured.Unstructured{}}
	for _, obj := range objects {
		testCluster.objects[objectutil.FmtUnstructured(obj)] = obj
	}
}

func (f *fakeCluster) Get(_ context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	live, ok := f.objects[objectutil.FmtUnstructured(obj)]
	if !ok {
		return nil, false, nil
	}
	return live.DeepCopy(), true, nil
}

func (f *fakeCluster) ServerVersion() (string, error) {
	return "v1.24.1", nil
}

func (f *fakeCluster) Create(_ context.Context, objects []*unstructured.Unstructured) (*ssa.ChangeSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	changeSet := ssa.NewChangeSet()
	for _, obj := range objects {
		subject := objectutil.FmtUnstructured(obj)
		action := ssa.CreatedAction
		if _, ok := f.objects[subject]; ok {
			action = ssa.ConfiguredAction
		}
		f.objects[subject] = obj.DeepCopy()
		f.applied = append(f.applied, subject)
		changeSet.Add(ssa.ChangeSetEntry{Subject: subject, Action: string(action)})
	}
	return changeSet, nil
}

func (f *fakeCluster) Remove(_ context.Context, objects []*unstructured.Unstructured) (*ssa.ChangeSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	changeSet := ssa.NewChangeSet()
	for _, obj := range objects {
		subject := objectutil.FmtUnstructured(obj)
		if _, ok := f.objects[subject]; !ok {
			continue
		}
		delete(f.objects, subject)
		changeSet.Add(ssa.ChangeSetEntry{Subject: subject, Action: string(ssa.DeletedAction)})
	}
	return changeSet, nil
}

type TestFile struct {
	Name string
	Body string
}

func makeTestFs(files []TestFile) error {
	appFs = afero.NewMemMapFs()
	for _, file := range files {
		if err := afero.WriteFile(appFs, file.Name, []byte(file.Body), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func executeCommand(cmd string) (string, error) {
	stdout, stderr, err := executeCommandOutputs(cmd)
	return stdout + stderr, err
}

func executeCommandOutputs(cmd string) (string, string, error) {
	defer resetCmdArgs()
	args, err := shellwords.Parse(cmd)
	if err != nil {
		return "", "", err
	}

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)

	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)

	logger.stderr = rootCmd.ErrOrStderr()

	_, err = rootCmd.ExecuteC()
	return stdout.String(), stderr.String(), err
}

func resetCmdArgs() {
	defaults := projectFlags{configFile: config.ProjectFileName}
	buildArgs = buildFlags{projectFlags: defaults, output: "yaml"}
	diffArgs = diffFlags{projectFlags: defaults, contextLines: drift.DefaultContextLines}
	applyArgs = applyFlags{projectFlags: defaults}
	configViewArgs = configViewFlags{}
	configInitArgs = configInitFlags{}
	*kubeconfigArgs.Context = ""
	*kubeconfigArgs.APIServer = ""
}

func newObject(apiVersion, kind, namespace, name string) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{}
	obj.SetAPIVersion(apiVersion)
	obj.SetKind(kind)
	obj.SetNamespace(namespace)
	obj.SetName(name)
	return obj
}

var testProject = func(namespace string) []TestFile {
	return []TestFile{
		{
			Name: "/work/kubetpl.yaml",
			Body: fmt.Sprintf(`apiVersion: kubetpl.dev/v1
kind: Project
defaults:
  context: test
vars:
  namespace: %[1]s
  replicas: 1
ignore:
  ConfigMap:
  - metadata.annotations
remove:
- template: templates/legacy.yaml
  tag: cleanup
create:
- template: templates/namespace.yaml
  tag: base
- template: templates/app.yaml
  tags: [app]
  vars:
    message: hello
`, namespace),
		},
		{
			Name: "/work/templates/legacy.yaml",
			Body: `apiVersion: v1
kind: ConfigMap
metadata:
  name: legacy
  namespace: {{ .namespace }}
`,
		},
		{
			Name: "/work/templates/namespace.yaml",
			Body: `apiVersion: v1
kind: Namespace
metadata:
  name: {{ .namespace }}
`,
		},
		{
			Name: "/work/templates/app.yaml",
			Body: `apiVersion: v1
kind: ConfigMap
metadata:
  name: app
  namespace: {{ .namespace }}
data:
  message: {{ .message | quote }}
  replicas: "{{ .replicas }}"
---
apiVersion: v1
kind: Secret
metadata:
  name: app
  namespace: {{ .namespace }}
stringData:
  token: {{ .message | b64enc | quote }}
`,
		},
		{
			Name: "/work/vars.yaml",
			Body: "replicas: 3\n",
		},
	}
}
