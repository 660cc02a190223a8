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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/fluxcd/pkg/ssa"
	"github.com/thoas/go-funk"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"

	"github.com/stefanprodan/kubetpl/pkg/cluster"
	"github.com/stefanprodan/kubetpl/pkg/config"
	"github.com/stefanprodan/kubetpl/pkg/drift"
	"github.com/stefanprodan/kubetpl/pkg/objectutil"
	"github.com/stefanprodan/kubetpl/pkg/render"
)

// Phase identifies the project list an item belongs to.
type Phase string

const (
	RemovePhase Phase = "remove"
	CreatePhase Phase = "create"
)

// LiveReader fetches the in-cluster state of objects.
type LiveReader interface {
	Get(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, bool, error)
	ServerVersion() (string, error)
}

// ObjectApplier mutates the cluster state.
type ObjectApplier interface {
	Create(ctx context.Context, objects []*unstructured.Unstructured) (*ssa.ChangeSet, error)
	Remove(ctx context.Context, objects []*unstructured.Unstructured) (*ssa.ChangeSet, error)
}

// ReaderFactory returns a reader for the cluster addressed by the connection.
type ReaderFactory func(conn cluster.Connection) (LiveReader, error)

// ApplierFactory returns an applier for the cluster addressed by the connection.
type ApplierFactory func(conn cluster.Connection) (ObjectApplier, error)

// Options controls which items are processed and how.
type Options struct {
	// Tags selects the items that have at least one of the tags, all items when empty.
	Tags []string

	// CreateOnly skips the remove list.
	CreateOnly bool

	// RemoveOnly skips the create list.
	RemoveOnly bool

	// DryRun diffs the rendered objects with the in-cluster ones instead of applying them.
	DryRun bool

	// Concurrency sets how many items of a phase are processed in parallel.
	Concurrency int

	// Vars holds the command line variables, they override the project and item ones.
	Vars map[string]interface{}

	// Connection holds the command line connection, used for the fields not set
	// by the item or the project defaults.
	Connection cluster.Connection
}

// Pipeline renders the project items and diffs or applies them, remove list first.
type Pipeline struct {
	Project  *config.Project
	Renderer *render.Renderer
	Differ   *drift.Differ
	Readers  ReaderFactory
	Appliers ApplierFactory
	Options  Options
}

// Result holds the outcome of processing an item.
type Result struct {
	Phase Phase
	Index int
	Item  config.Item

	// Objects holds the rendered objects.
	Objects []*unstructured.Unstructured

	// Diffs holds the per object comparison, set on dry-run.
	Diffs []*drift.Result

	// Changes holds the cluster mutations, set when applying.
	Changes []ssa.ChangeSetEntry

	// Skipped is true when the cluster version doesn't satisfy the item constraint.
	Skipped bool

	Err error
}

// ID returns the item identity in the format '<phase> #<index> <template>'.
func (r *Result) ID() string {
	return fmt.Sprintf("%s #%d %s", r.Phase, r.Index, r.Item.Template)
}

// Counts returns the number of objects per action.
func (r *Result) Counts() map[drift.Action]int {
	counts := map[drift.Action]int{}
	for _, d := range r.Diffs {
		counts[d.Action]++
	}
	for _, change := range r.Changes {
		counts[drift.Action(change.Action)]++
	}
	return counts
}

// Status returns a one word description of the outcome.
func (r *Result) Status() string {
	switch {
	case r.Err != nil:
		return "failed"
	case r.Skipped:
		return "skipped"
	default:
		return "ok"
	}
}

// Run processes the selected items of the remove list, then the ones of the create list.
// Item failures don't stop the processing, they are returned as an aggregated error
// next to the results of all items in declaration order.
func (p *Pipeline) Run(ctx context.Context) ([]*Result, error) {
	if p.Options.CreateOnly && p.Options.RemoveOnly {
		return nil, errors.New("create only and remove only are mutually exclusive")
	}

	var results []*Result
	if !p.Options.CreateOnly {
		results = append(results, p.runPhase(ctx, RemovePhase, p.Project.Remove)...)
	}
	if !p.Options.RemoveOnly {
		results = append(results, p.runPhase(ctx, CreatePhase, p.Project.Create)...)
	}

	var errs []error
	for _, result := range results {
		if result.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", result.ID(), result.Err))
		}
	}
	return results, utilerrors.NewAggregate(errs)
}

// Render renders the selected items of the create list without contacting the clusters.
func (p *Pipeline) Render() ([]*Result, error) {
	results := p.selectItems(CreatePhase, p.Project.Create)
	var errs []error
	for _, result := range results {
		result.Objects, result.Err = p.render(result.Item)
		if result.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", result.ID(), result.Err))
		}
	}
	return results, utilerrors.NewAggregate(errs)
}

// Selected reports whether the item matches the tag filter.
func (p *Pipeline) Selected(item config.Item) bool {
	if len(p.Options.Tags) == 0 {
		return true
	}
	for _, tag := range item.AllTags() {
		if funk.ContainsString(p.Options.Tags, tag) {
			return true
		}
	}
	return false
}

func (p *Pipeline) selectItems(phase Phase, items []config.Item) []*Result {
	var results []*Result
	for i, item := range items {
		if !p.Selected(item) {
			klog.V(2).Infof("%s #%d %s skipped, no matching tags", phase, i, item.Template)
			continue
		}
		results = append(results, &Result{Phase: phase, Index: i, Item: item})
	}
	return results
}

func (p *Pipeline) runPhase(ctx context.Context, phase Phase, items []config.Item) []*Result {
	results := p.selectItems(phase, items)

	limit := p.Options.Concurrency
	if limit < 1 {
		limit = config.DefaultConcurrency
	}

	g := errgroup.Group{}
	g.SetLimit(limit)
	for _, result := range results {
		result := result
		g.Go(func() error {
			result.Err = p.process(ctx, result)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (p *Pipeline) process(ctx context.Context, result *Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	item := result.Item
	conn := cluster.Resolve(item.Connection, p.Project.Defaults, p.Options.Connection)
	klog.V(2).Infof("%s on %s", result.ID(), conn)

	objects, err := p.render(item)
	if err != nil {
		return err
	}
	result.Objects = objects

	if len(objects) == 0 {
		return nil
	}

	reader, err := p.Readers(conn)
	if err != nil {
		return err
	}

	if item.KubeVersion != "" {
		version, err := reader.ServerVersion()
		if err != nil {
			return err
		}
		if err := cluster.CheckVersion(item.KubeVersion, version); err != nil {
			var mismatch *cluster.VersionMismatchError
			if errors.As(err, &mismatch) {
				klog.V(2).Infof("%s skipped, %v", result.ID(), err)
				result.Skipped = true
				return nil
			}
			return err
		}
	}

	if p.Options.DryRun {
		result.Diffs, err = p.diff(ctx, reader, result.Phase, objects)
		return err
	}

	applier, err := p.Appliers(conn)
	if err != nil {
		return err
	}

	var changeSet *ssa.ChangeSet
	switch result.Phase {
	case RemovePhase:
		changeSet, err = applier.Remove(ctx, objects)
	default:
		changeSet, err = applier.Create(ctx, objects)
	}
	if changeSet != nil {
		result.Changes = changeSet.Entries
	}
	return err
}

func (p *Pipeline) render(item config.Item) ([]*unstructured.Unstructured, error) {
	vars, err := config.MergeVars(p.Project.Vars, item.Vars, p.Options.Vars)
	if err != nil {
		return nil, fmt.Errorf("merging vars failed: %w", err)
	}

	objects, err := p.Renderer.RenderFile(item.Template, vars)
	if err != nil {
		return nil, err
	}

	if item.Patches != "" && len(objects) > 0 {
		objects, err = p.Renderer.ApplyPatches(objects, item.Patches)
		if err != nil {
			return nil, err
		}
	}

	sort.Sort(objectutil.ApplyOrder(objects))
	return objects, nil
}

func (p *Pipeline) diff(ctx context.Context, reader LiveReader, phase Phase, objects []*unstructured.Unstructured) ([]*drift.Result, error) {
	differ := p.Differ
	if differ == nil {
		differ = drift.NewDiffer(nil)
	}

	diffs := make([]*drift.Result, 0, len(objects))
	for _, object := range objects {
		live, found, err := reader.Get(ctx, object)
		if err != nil {
			return diffs, err
		}

		if phase == RemovePhase {
			action := drift.UnchangedAction
			if found {
				action = drift.DeletedAction
			}
			diffs = append(diffs, &drift.Result{
				Subject: objectutil.FmtUnstructured(object),
				Action:  action,
				Changed: found,
			})
			continue
		}

		if !found {
			live = nil
		}
		d, err := differ.Diff(object, live)
		if err != nil {
			return diffs, err
		}
		diffs = append(diffs, d)
	}
	return diffs, nil
}
