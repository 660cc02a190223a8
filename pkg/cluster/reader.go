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

package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/util/retry"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/stefanprodan/kubetpl/pkg/objectutil"
)

// DefaultBackoff is used by readers created without a retry policy.
var DefaultBackoff = wait.Backoff{
	Steps:    5,
	Duration: 500 * time.Millisecond,
	Factor:   2.0,
	Jitter:   0.1,
}

// Reader fetches the in-cluster state of objects.
type Reader struct {
	client    client.Reader
	discovery discovery.ServerVersionInterface
	conn      Connection
	backoff   wait.Backoff
}

// NewReader returns a reader that retries transient failures with the given backoff.
// The connection is only used to describe the cluster in errors.
func NewReader(c client.Reader, dc discovery.ServerVersionInterface, conn Connection, backoff wait.Backoff) *Reader {
	if backoff.Steps < 1 {
		backoff = DefaultBackoff
	}
	return &Reader{
		client:    c,
		discovery: dc,
		conn:      conn,
		backoff:   backoff,
	}
}

// Get returns the in-cluster version of the object, without managed fields.
// Objects that don't exist, including the ones with no registered kind,
// are reported with found set to false and no error.
func (r *Reader) Get(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, bool, error) {
	subject := objectutil.FmtUnstructured(obj)

	live := &unstructured.Unstructured{}
	live.SetGroupVersionKind(obj.GroupVersionKind())

	attempt := 0
	err := retry.OnError(r.backoff, func(err error) bool {
		return ctx.Err() == nil && IsTransient(err)
	}, func() error {
		attempt++
		if attempt > 1 {
			klog.V(2).Infof("%s read retry %d/%d", subject, attempt, r.backoff.Steps)
		}
		return r.client.Get(ctx, client.ObjectKeyFromObject(obj), live)
	})

	switch {
	case err == nil:
	case apierrors.IsNotFound(err), meta.IsNoMatchError(err):
		klog.V(4).Infof("%s not found", subject)
		return nil, false, nil
	default:
		return nil, false, &ConnectionError{Subject: subject, Context: r.conn.Context, Host: r.conn.Host, Err: err}
	}

	unstructured.RemoveNestedField(live.Object, "metadata", "managedFields")
	return live, true, nil
}

// ServerVersion returns the Kubernetes version of the cluster, e.g. 'v1.24.1'.
func (r *Reader) ServerVersion() (string, error) {
	if r.discovery == nil {
		return "", fmt.Errorf("discovery client not configured")
	}

	var version string
	err := retry.OnError(r.backoff, IsTransient, func() error {
		info, err := r.discovery.ServerVersion()
		if err != nil {
			return err
		}
		version = info.GitVersion
		return nil
	})
	if err != nil {
		return "", &ConnectionError{Context: r.conn.Context, Host: r.conn.Host, Err: fmt.Errorf("server version: %w", err)}
	}
	return version, nil
}

// CheckVersion returns a VersionMismatchError if the version does not satisfy the semver constraint.
// Pre-release and build metadata are ignored, e.g. 'v1.23.5-gke.1503' is matched as '1.23.5'.
func CheckVersion(constraint, version string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid kube version constraint %q: %w", constraint, err)
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid cluster version %q: %w", version, err)
	}

	core, err := v.SetPrerelease("")
	if err != nil {
		return err
	}
	core, err = core.SetMetadata("")
	if err != nil {
		return err
	}

	if !c.Check(&core) {
		return &VersionMismatchError{Constraint: constraint, Version: version}
	}
	return nil
}
