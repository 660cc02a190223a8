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
	"strconv"
	"strings"
)

type segmentKind int

const (
	keySegment segmentKind = iota
	indexSegment
	wildcardSegment
)

type segment struct {
	kind  segmentKind
	key   string
	index int
}

func (s segment) String() string {
	switch s.kind {
	case indexSegment:
		return fmt.Sprintf("[%d]", s.index)
	case wildcardSegment:
		return "[*]"
	default:
		if strings.ContainsAny(s.key, `.[]"`) {
			return fmt.Sprintf("[%q]", s.key)
		}
		return s.key
	}
}

// Path addresses a field inside a manifest. A path that carries a match value
// only deletes the fields equal to that value.
type Path struct {
	segments []segment
	match    bool
	value    interface{}
}

// WithValue returns a copy of the path that only matches fields equal to v.
func (p Path) WithValue(v interface{}) Path {
	p.match, p.value = true, v
	return p
}

// Value returns the match value of the path, if any.
func (p Path) Value() (interface{}, bool) {
	return p.value, p.match
}

// ParsePath parses a dotted path with optional brackets, e.g.
//
//	metadata.annotations
//	spec.template.spec.containers[*].terminationMessagePath
//	spec.ports[0].targetPort
//	metadata.annotations["deployment.kubernetes.io/revision"]
func ParsePath(s string) (Path, error) {
	var p Path
	if strings.TrimSpace(s) == "" {
		return p, fmt.Errorf("empty field path")
	}

	i := 0
	expectKey := true
	for i < len(s) {
		switch c := s[i]; {
		case c == '.':
			if expectKey {
				return p, fmt.Errorf("invalid field path %q: empty key at offset %d", s, i)
			}
			expectKey = true
			i++
		case c == '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return p, fmt.Errorf("invalid field path %q: unterminated '['", s)
			}
			inner := s[i+1 : i+end]
			if strings.HasPrefix(inner, `"`) || strings.HasPrefix(inner, `'`) {
				// quoted keys may contain ']'
				quote := inner[0]
				closing := strings.IndexByte(s[i+2:], quote)
				if closing < 0 || i+2+closing+1 >= len(s) || s[i+2+closing+1] != ']' {
					return p, fmt.Errorf("invalid field path %q: unterminated quoted key", s)
				}
				p.segments = append(p.segments, segment{kind: keySegment, key: s[i+2 : i+2+closing]})
				i = i + 2 + closing + 2
			} else {
				seg, err := parseBracket(inner)
				if err != nil {
					return p, fmt.Errorf("invalid field path %q: %w", s, err)
				}
				p.segments = append(p.segments, seg)
				i += end + 1
			}
			expectKey = false
		default:
			if !expectKey {
				return p, fmt.Errorf("invalid field path %q: missing '.' at offset %d", s, i)
			}
			end := strings.IndexAny(s[i:], ".[")
			if end < 0 {
				end = len(s) - i
			}
			p.segments = append(p.segments, segment{kind: keySegment, key: s[i : i+end]})
			i += end
			expectKey = false
		}
	}

	if expectKey {
		return p, fmt.Errorf("invalid field path %q: trailing '.'", s)
	}
	return p, nil
}

// MustParsePath is like ParsePath but panics on error.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func parseBracket(inner string) (segment, error) {
	if inner == "*" {
		return segment{kind: wildcardSegment}, nil
	}
	n, err := strconv.Atoi(inner)
	if err != nil || n < 0 {
		return segment{}, fmt.Errorf("list index %q is not a non-negative integer", inner)
	}
	return segment{kind: indexSegment, index: n}, nil
}

func (p Path) String() string {
	var b strings.Builder
	for i, s := range p.segments {
		if i > 0 && s.kind == keySegment && !strings.ContainsAny(s.key, `.[]"`) {
			b.WriteString(".")
		}
		b.WriteString(s.String())
	}
	return b.String()
}

// MarshalJSON encodes the path in its textual form.
func (p Path) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(p.String())), nil
}

// UnmarshalJSON parses the path from its textual form.
func (p *Path) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("field path must be a string: %w", err)
	}
	parsed, err := ParsePath(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Delete removes the addressed field from obj.
// Missing intermediate keys, out of range indexes and type mismatches are no-ops.
// It returns true if at least one field was removed.
func (p Path) Delete(obj map[string]interface{}) bool {
	if len(p.segments) == 0 || p.segments[0].kind != keySegment {
		return false
	}
	_, removed := p.deletion(false).at(obj, nil, p.segments)
	return removed
}

// Prune deletes the addressed field from obj unless declared sets it at the same
// location, and drops the maps left empty by the deletion. A nil declared object
// prunes every addressed field.
func (p Path) Prune(obj, declared map[string]interface{}) bool {
	if len(p.segments) == 0 || p.segments[0].kind != keySegment {
		return false
	}
	var root interface{}
	if declared != nil {
		root = declared
	}
	_, removed := p.deletion(true).at(obj, root, p.segments)
	return removed
}

func (p Path) deletion(dropEmptyMaps bool) deletion {
	return deletion{dropEmptyMaps: dropEmptyMaps, match: p.match, value: p.value}
}

type deletion struct {
	dropEmptyMaps bool
	match         bool
	value         interface{}
}

// matches reports whether v can be deleted. Values are compared in their
// textual form, so that 8080 matches both an int64 and a float64.
func (d deletion) matches(v interface{}) bool {
	return !d.match || fmt.Sprint(v) == fmt.Sprint(d.value)
}

// at returns the node with the addressed field removed. Maps are modified in place,
// lists are returned as new slices when an element is dropped. declared is the
// node found at the same location in the rendered object, or nil.
func (d deletion) at(node, declared interface{}, segs []segment) (interface{}, bool) {
	head, rest := segs[0], segs[1:]

	switch head.kind {
	case keySegment:
		m, ok := node.(map[string]interface{})
		if !ok {
			return node, false
		}
		child, ok := m[head.key]
		if !ok {
			return node, false
		}
		declaredChild, isDeclared := lookupKey(declared, head.key)
		if len(rest) == 0 {
			if isDeclared || !d.matches(child) {
				return m, false
			}
			delete(m, head.key)
			return m, true
		}
		updated, removed := d.at(child, declaredChild, rest)
		if !removed {
			return m, false
		}
		if um, ok := updated.(map[string]interface{}); ok && d.dropEmptyMaps && len(um) == 0 && !isDeclared {
			delete(m, head.key)
		} else {
			m[head.key] = updated
		}
		return m, true
	case indexSegment:
		l, ok := node.([]interface{})
		if !ok || head.index >= len(l) {
			return node, false
		}
		declaredItem, isDeclared := lookupIndex(declared, head.index)
		if len(rest) == 0 {
			if isDeclared || !d.matches(l[head.index]) {
				return l, false
			}
			out := make([]interface{}, 0, len(l)-1)
			out = append(out, l[:head.index]...)
			return append(out, l[head.index+1:]...), true
		}
		updated, removed := d.at(l[head.index], declaredItem, rest)
		if removed {
			l[head.index] = updated
		}
		return l, removed
	case wildcardSegment:
		l, ok := node.([]interface{})
		if !ok {
			return node, false
		}
		if len(rest) == 0 {
			out := make([]interface{}, 0, len(l))
			for i, item := range l {
				if _, isDeclared := lookupIndex(declared, i); isDeclared || !d.matches(item) {
					out = append(out, item)
				}
			}
			return out, len(out) < len(l)
		}
		removed := false
		for i := range l {
			declaredItem, _ := lookupIndex(declared, i)
			updated, ok := d.at(l[i], declaredItem, rest)
			if ok {
				l[i] = updated
				removed = true
			}
		}
		return l, removed
	}
	return node, false
}

func lookupKey(node interface{}, key string) (interface{}, bool) {
	m, ok := node.(map[string]interface{})
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

func lookupIndex(node interface{}, index int) (interface{}, bool) {
	l, ok := node.([]interface{})
	if !ok || index >= len(l) {
		return nil, false
	}
	return l[index], true
}
