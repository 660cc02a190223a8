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
	"errors"
	"fmt"
	"net"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	utilnet "k8s.io/apimachinery/pkg/util/net"
)

// ConnectionError is returned when the API server can't be reached
// or refuses the request.
type ConnectionError struct {
	Subject string
	Context string
	Host    string
	Err     error
}

func (e *ConnectionError) Error() string {
	target := Connection{Context: e.Context, Host: e.Host}.String()
	if e.Subject == "" {
		return fmt.Sprintf("cluster %s: %v", target, e.Err)
	}
	return fmt.Sprintf("%s on cluster %s: %v", e.Subject, target, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// MissingCredentialsError is returned when an operation that talks to
// the API server has no credentials to authenticate with.
type MissingCredentialsError struct {
	Host string
}

func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("no credentials found for %s, set api_key, cert_file and key_file, username and password or a kubeconfig user", e.Host)
}

// VersionMismatchError is returned when the cluster version does not
// satisfy the constraint of an item.
type VersionMismatchError struct {
	Constraint string
	Version    string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("cluster version %s does not match %s", e.Version, e.Constraint)
}

// IsTransient returns true for the errors worth retrying:
// timeouts, throttling, unavailable or failing servers and network errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	switch {
	case apierrors.IsTimeout(err),
		apierrors.IsServerTimeout(err),
		apierrors.IsTooManyRequests(err),
		apierrors.IsServiceUnavailable(err),
		apierrors.IsInternalError(err):
		return true
	case utilnet.IsConnectionRefused(err),
		utilnet.IsConnectionReset(err),
		utilnet.IsProbableEOF(err):
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
