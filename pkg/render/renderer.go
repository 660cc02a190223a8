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
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/spf13/afero"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/klog/v2"

	"github.com/stefanprodan/kubetpl/pkg/objectutil"
)

// TemplateError is returned when a template can't be parsed, executed
// or when its output can't be decoded into Kubernetes objects.
type TemplateError struct {
	Template string
	Err      error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %s: %v", e.Template, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

// Renderer expands manifest templates into Kubernetes objects.
type Renderer struct {
	FuncMap template.FuncMap
	fs      afero.Fs
}

// NewRenderer returns a renderer that reads templates from the given file system,
// with the Sprig functions that access the environment removed.
func NewRenderer(fs afero.Fs) *Renderer {
	f := sprig.TxtFuncMap()
	for _, fun := range []string{"env", "expandenv"} {
		delete(f, fun)
	}
	f["toYaml"] = toYAML
	f["fromYaml"] = fromYAML

	if fs == nil {
		fs = afero.NewOsFs()
	}

	return &Renderer{
		FuncMap: f,
		fs:      fs,
	}
}

func (r *Renderer) template(name string) *template.Template {
	t := template.New("kubetpl")
	t.Option("missingkey=error")
	return t.New(name).Funcs(r.FuncMap)
}

// Render executes the template source with the variables at the template root
// and decodes the result into Kubernetes objects.
// Undefined variables are errors, empty documents are skipped and lists are flattened.
func (r *Renderer) Render(name, source string, vars map[string]interface{}) ([]*unstructured.Unstructured, error) {
	if vars == nil {
		vars = map[string]interface{}{}
	}

	t := r.template(name)
	if _, err := t.Parse(source); err != nil {
		return nil, &TemplateError{Template: name, Err: fmt.Errorf("parsing failed: %w", err)}
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, vars); err != nil {
		return nil, &TemplateError{Template: name, Err: fmt.Errorf("rendering failed: %w", err)}
	}

	objects, err := objectutil.ReadObjects(&buf)
	if err != nil {
		return nil, &TemplateError{Template: name, Err: fmt.Errorf("decoding failed: %w", err)}
	}

	for _, obj := range objects {
		if !objectutil.IsKubernetesObject(obj) {
			return nil, &TemplateError{
				Template: name,
				Err:      fmt.Errorf("%s is missing the apiVersion, kind or name", objectutil.FmtUnstructured(obj)),
			}
		}
	}

	klog.V(2).Infof("rendered %d object(s) from %s", len(objects), name)
	return objects, nil
}

// RenderFile reads the template from the renderer's file system and renders it.
func (r *Renderer) RenderFile(path string, vars map[string]interface{}) ([]*unstructured.Unstructured, error) {
	data, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return nil, &TemplateError{Template: path, Err: err}
	}
	return r.Render(path, string(data), vars)
}
