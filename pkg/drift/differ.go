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
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"

	"github.com/stefanprodan/kubetpl/pkg/objectutil"
)

// DefaultContextLines is the number of unchanged lines printed around each hunk.
const DefaultContextLines = 3

// Differ compares rendered objects with their in-cluster counterparts.
// The zero value diffs without any ignore rules and without context lines.
type Differ struct {
	// Rules holds the fields removed from the in-cluster object, per kind.
	// Fields set by the rendered object are always compared.
	Rules IgnoreRules

	// IgnoreEmpty removes empty maps, lists, strings and nulls from both objects.
	IgnoreEmpty bool

	// MaskSecrets hides the Secret data values in the diff output.
	MaskSecrets bool

	// ContextLines sets the number of unchanged lines around each hunk,
	// a negative value selects DefaultContextLines.
	ContextLines int
}

// NewDiffer returns a differ for the given rules with the default context lines.
func NewDiffer(rules IgnoreRules) *Differ {
	return &Differ{Rules: rules, ContextLines: DefaultContextLines}
}

// Diff compares the rendered object with the in-cluster one using the given ignore rules.
// A nil live object means the object was not found in-cluster.
func Diff(candidate, live *unstructured.Unstructured, rules IgnoreRules) (*Result, error) {
	return NewDiffer(rules).Diff(candidate, live)
}

// Diff compares the rendered object with the in-cluster one.
// A nil live object means the object was not found in-cluster.
// Neither of the given objects is modified.
func (d *Differ) Diff(candidate, live *unstructured.Unstructured) (*Result, error) {
	if candidate == nil {
		return nil, fmt.Errorf("rendered object can't be nil")
	}

	subject := objectutil.FmtUnstructured(candidate)
	rendered := normalizeCandidate(candidate)

	if live == nil {
		return d.created(subject, rendered)
	}

	pruned := d.Prune(live, rendered)
	if d.IgnoreEmpty {
		rendered.Object = dropEmpty(rendered.Object).(map[string]interface{})
	}

	renderedText, err := Canonicalize(rendered)
	if err != nil {
		return nil, &CanonicalizationError{Subject: subject, Err: err}
	}
	liveText, err := Canonicalize(pruned)
	if err != nil {
		return nil, &CanonicalizationError{Subject: subject, Err: err}
	}

	result := &Result{Subject: subject, Action: UnchangedAction}
	if liveText == renderedText {
		return result, nil
	}

	if d.MaskSecrets && rendered.GetKind() == "Secret" {
		maskSecretPair(pruned, rendered)
		if renderedText, err = Canonicalize(rendered); err != nil {
			return nil, &CanonicalizationError{Subject: subject, Err: err}
		}
		if liveText, err = Canonicalize(pruned); err != nil {
			return nil, &CanonicalizationError{Subject: subject, Err: err}
		}
	}

	result.Hunks, result.Unified, err = d.lineDiff(subject, splitLines(liveText), splitLines(renderedText))
	if err != nil {
		return nil, err
	}
	result.Changed = len(result.Hunks) > 0
	if result.Changed {
		result.Action = ConfiguredAction
	}

	klog.V(4).Infof("%s compared with %d ignore rule(s): %s", subject, len(d.Rules.For(live.GetKind())), result.Action)
	return result, nil
}

// Prune returns a copy of the live object without the fields addressed by the ignore rules
// for its kind, maps emptied by the rules are dropped. Fields that the rendered object
// sets at the same location are kept.
func (d *Differ) Prune(live, candidate *unstructured.Unstructured) *unstructured.Unstructured {
	var declared map[string]interface{}
	if candidate != nil {
		declared = candidate.Object
	}

	pruned := live.DeepCopy()
	for _, p := range d.Rules.For(live.GetKind()) {
		if p.Prune(pruned.Object, declared) {
			klog.V(5).Infof("%s ignored %s", objectutil.FmtUnstructured(live), p)
		}
	}

	if d.IgnoreEmpty {
		pruned.Object = dropEmpty(pruned.Object).(map[string]interface{})
	}
	return pruned
}

func (d *Differ) created(subject string, rendered *unstructured.Unstructured) (*Result, error) {
	if d.MaskSecrets {
		if err := objectutil.MaskSecret(rendered, objectutil.SecretMask); err != nil {
			return nil, fmt.Errorf("%s masking secret data failed, error: %w", subject, err)
		}
	}

	renderedText, err := Canonicalize(rendered)
	if err != nil {
		return nil, &CanonicalizationError{Subject: subject, Err: err}
	}

	hunks, unified, err := d.lineDiff(subject, []string{}, splitLines(renderedText))
	if err != nil {
		return nil, err
	}

	return &Result{
		Subject: subject,
		Action:  CreatedAction,
		Changed: true,
		Hunks:   hunks,
		Unified: unified,
	}, nil
}

// Canonicalize serializes the object to YAML with sorted keys.
// A nil or empty object serializes to '{}'.
func Canonicalize(obj *unstructured.Unstructured) (string, error) {
	var content map[string]interface{}
	if obj != nil {
		content = obj.Object
	}
	if content == nil {
		content = map[string]interface{}{}
	}
	data, err := yaml.Marshal(content)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (d *Differ) lineDiff(subject string, a, b []string) ([]Hunk, string, error) {
	contextLines := d.ContextLines
	if contextLines < 0 {
		contextLines = DefaultContextLines
	}

	var hunks []Hunk
	matcher := difflib.NewMatcher(a, b)
	for _, group := range matcher.GetGroupedOpCodes(contextLines) {
		if !hasChanges(group) {
			continue
		}
		first, last := group[0], group[len(group)-1]
		hunk := Hunk{
			LiveStart:     first.I1 + 1,
			LiveLines:     last.I2 - first.I1,
			RenderedStart: first.J1 + 1,
			RenderedLines: last.J2 - first.J1,
		}
		for _, code := range group {
			switch code.Tag {
			case 'e':
				hunk.Lines = appendLines(hunk.Lines, Context, a[code.I1:code.I2])
			case 'd':
				hunk.Lines = appendLines(hunk.Lines, Removed, a[code.I1:code.I2])
			case 'i':
				hunk.Lines = appendLines(hunk.Lines, Added, b[code.J1:code.J2])
			case 'r':
				hunk.Lines = appendLines(hunk.Lines, Removed, a[code.I1:code.I2])
				hunk.Lines = appendLines(hunk.Lines, Added, b[code.J1:code.J2])
			}
		}
		hunks = append(hunks, hunk)
	}

	if len(hunks) == 0 {
		return nil, "", nil
	}

	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: "live/" + subject,
		ToFile:   "rendered/" + subject,
		Context:  contextLines,
	})
	if err != nil {
		return nil, "", fmt.Errorf("%s diff failed, error: %w", subject, err)
	}
	return hunks, unified, nil
}

func hasChanges(group []difflib.OpCode) bool {
	for _, code := range group {
		if code.Tag != 'e' {
			return true
		}
	}
	return false
}

func appendLines(lines []Line, op LineOp, text []string) []Line {
	for _, t := range text {
		lines = append(lines, Line{Op: op, Text: trimNewline(t)})
	}
	return lines
}

// splitLines splits the text after each newline, every line keeps its terminator.
func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	} else {
		lines[len(lines)-1] += "\n"
	}
	return lines
}
