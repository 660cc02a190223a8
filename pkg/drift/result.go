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

package drift

import (
	"fmt"
	"strings"
)

// Action represents the outcome of comparing a rendered object with the in-cluster one.
type Action string

const (
	CreatedAction    Action = "created"
	ConfiguredAction Action = "configured"
	UnchangedAction  Action = "unchanged"
	DeletedAction    Action = "deleted"
)

// LineOp marks a diff line as context, addition or removal.
type LineOp string

const (
	Context LineOp = " "
	Added   LineOp = "+"
	Removed LineOp = "-"
)

// Line is a single line of a diff hunk, Text has no trailing newline.
type Line struct {
	Op   LineOp
	Text string
}

func (l Line) String() string {
	return string(l.Op) + l.Text
}

// Hunk is a group of changed lines surrounded by context.
// Start positions are 1-based, as in unified diffs.
type Hunk struct {
	LiveStart     int
	LiveLines     int
	RenderedStart int
	RenderedLines int
	Lines         []Line
}

// Header returns the unified diff range header of the hunk.
func (h Hunk) Header() string {
	return fmt.Sprintf("@@ -%s +%s @@", fmtRange(h.LiveStart, h.LiveLines), fmtRange(h.RenderedStart, h.RenderedLines))
}

func fmtRange(start, length int) string {
	if length == 1 {
		return fmt.Sprintf("%d", start)
	}
	if length == 0 {
		start--
	}
	return fmt.Sprintf("%d,%d", start, length)
}

// Result holds the outcome of a diff between a rendered object and its in-cluster counterpart.
type Result struct {
	// Subject represents the Object ID in the format 'kind/namespace/name'.
	Subject string
	// Action is created when the object is not found in-cluster,
	// configured when it has drifted and unchanged otherwise.
	Action Action
	// Changed is true when Hunks is not empty.
	Changed bool
	// Hunks contains the line changes in live to rendered direction.
	Hunks []Hunk
	// Unified contains the diff in unified format.
	Unified string
}

// Counts returns the number of added and removed lines.
func (r *Result) Counts() (added, removed int) {
	for _, h := range r.Hunks {
		for _, l := range h.Lines {
			switch l.Op {
			case Added:
				added++
			case Removed:
				removed++
			}
		}
	}
	return
}

func (r *Result) String() string {
	return fmt.Sprintf("%s %s", r.Subject, r.Action)
}

// CanonicalizationError is returned when an object can't be serialized for comparison.
type CanonicalizationError struct {
	Subject string
	Err     error
}

func (e *CanonicalizationError) Error() string {
	return fmt.Sprintf("%s canonicalization failed, error: %v", e.Subject, e.Err)
}

func (e *CanonicalizationError) Unwrap() error {
	return e.Err
}

func trimNewline(s string) string {
	return strings.TrimSuffix(s, "\n")
}
