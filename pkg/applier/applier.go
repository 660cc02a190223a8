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

package applier

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fluxcd/pkg/ssa"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"
	"sigs.k8s.io/cli-utils/pkg/kstatus/polling"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/stefanprodan/kubetpl/pkg/objectutil"
)

// Options controls how objects are created and removed.
type Options struct {
	// Force recreates the objects that contain changes to immutable fields.
	Force bool

	// Wait blocks until the created objects are ready or the removed ones are terminated.
	Wait bool

	// Timeout bounds the wait.
	Timeout time.Duration
}

// Applier creates and removes objects with server-side apply.
type Applier struct {
	manager *ssa.ResourceManager
	opts    Options
}

// New returns an applier that uses the owner as the field manager.
func New(c client.Client, poller *polling.StatusPoller, owner ssa.Owner, opts Options) *Applier {
	if opts.Timeout == 0 {
		opts.Timeout = ssa.DefaultWaitOptions().Timeout
	}
	return &Applier{
		manager: ssa.NewResourceManager(c, poller, owner),
		opts:    opts,
	}
}

// Create applies the objects, CRDs and Namespaces first.
// The cluster definitions are waited for before the rest of the objects are applied.
func (a *Applier) Create(ctx context.Context, objects []*unstructured.Unstructured) (*ssa.ChangeSet, error) {
	objects = copyObjects(objects)
	for _, object := range objects {
		FixReplicasConflict(object, objects)
	}

	stageOne, stageTwo := Stage(objects)

	applyOpts := ssa.DefaultApplyOptions()
	applyOpts.Force = a.opts.Force

	waitOpts := ssa.DefaultWaitOptions()
	waitOpts.Timeout = a.opts.Timeout

	changeSet := ssa.NewChangeSet()

	if len(stageOne) > 0 {
		cs, err := a.manager.ApplyAll(ctx, stageOne, applyOpts)
		if err != nil {
			return changeSet, err
		}
		changeSet.Append(cs.Entries)

		if err := a.manager.Wait(stageOne, waitOpts); err != nil {
			return changeSet, err
		}
	}

	if len(stageTwo) > 0 {
		cs, err := a.manager.ApplyAll(ctx, stageTwo, applyOpts)
		if err != nil {
			return changeSet, err
		}
		changeSet.Append(cs.Entries)
	}

	if a.opts.Wait {
		klog.V(2).Infof("waiting for %d object(s) to become ready", len(objects))
		if err := a.manager.Wait(objects, waitOpts); err != nil {
			return changeSet, fmt.Errorf("waiting for readiness failed, error: %w", err)
		}
	}

	return changeSet, nil
}

// Remove deletes the objects in the reverse apply order.
// Objects that don't exist are not errors, a failed deletion doesn't stop the others.
func (a *Applier) Remove(ctx context.Context, objects []*unstructured.Unstructured) (*ssa.ChangeSet, error) {
	objects = copyObjects(objects)
	sort.Sort(sort.Reverse(objectutil.ApplyOrder(objects)))

	changeSet := ssa.NewChangeSet()
	var errs []error
	var deleted []*unstructured.Unstructured
	for _, object := range objects {
		existing := object.DeepCopy()
		if err := a.manager.Client().Get(ctx, client.ObjectKeyFromObject(object), existing); err != nil {
			if apierrors.IsNotFound(err) {
				klog.V(2).Infof("%s not found, nothing to delete", objectutil.FmtUnstructured(object))
				continue
			}
			errs = append(errs, fmt.Errorf("%s query failed, error: %w", objectutil.FmtUnstructured(object), err))
			continue
		}

		change, err := a.manager.Delete(ctx, object, ssa.DefaultDeleteOptions())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		changeSet.Add(*change)
		deleted = append(deleted, object)
	}

	if len(errs) > 0 {
		return changeSet, utilerrors.NewAggregate(errs)
	}

	if a.opts.Wait && len(deleted) > 0 {
		waitOpts := ssa.DefaultWaitOptions()
		waitOpts.Timeout = a.opts.Timeout
		klog.V(2).Infof("waiting for %d object(s) to be terminated", len(deleted))
		if err := a.manager.WaitForTermination(deleted, waitOpts); err != nil {
			return changeSet, fmt.Errorf("waiting for termination failed, error: %w", err)
		}
	}

	return changeSet, nil
}

// Stage splits the objects into cluster definitions and the rest, both sorted in apply order.
func Stage(objects []*unstructured.Unstructured) (stageOne, stageTwo []*unstructured.Unstructured) {
	for _, u := range objects {
		if objectutil.IsClusterDefinition(u) {
			stageOne = append(stageOne, u)
		} else {
			stageTwo = append(stageTwo, u)
		}
	}
	sort.Sort(objectutil.ApplyOrder(stageOne))
	sort.Sort(objectutil.ApplyOrder(stageTwo))
	return
}

// FixReplicasConflict removes the replicas field from the given workload if it's managed by an HPA.
func FixReplicasConflict(object *unstructured.Unstructured, objects []*unstructured.Unstructured) {
	for _, hpa := range objects {
		if hpa.GetKind() != "HorizontalPodAutoscaler" || object.GetNamespace() != hpa.GetNamespace() {
			continue
		}
		targetKind, found, err := unstructured.NestedFieldCopy(hpa.Object, "spec", "scaleTargetRef", "kind")
		if err != nil || !found || fmt.Sprintf("%v", targetKind) != object.GetKind() {
			continue
		}
		targetName, found, err := unstructured.NestedFieldCopy(hpa.Object, "spec", "scaleTargetRef", "name")
		if err == nil && found && fmt.Sprintf("%v", targetName) == object.GetName() {
			unstructured.RemoveNestedField(object.Object, "spec", "replicas")
		}
	}
}

func copyObjects(objects []*unstructured.Unstructured) []*unstructured.Unstructured {
	out := make([]*unstructured.Unstructured, 0, len(objects))
	for _, o := range objects {
		out = append(out, o.DeepCopy())
	}
	return out
}
