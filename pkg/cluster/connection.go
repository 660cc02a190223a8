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
	"fmt"
	"time"

	"github.com/imdario/mergo"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Connection holds the parameters used to reach a cluster.
// Empty fields fall back to the kubeconfig current context.
type Connection struct {
	Kubeconfig string `json:"kubeconfig,omitempty"`
	Context    string `json:"context,omitempty"`
	Host       string `json:"host,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	SSLCACert  string `json:"ssl_ca_cert,omitempty"`
	CertFile   string `json:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
}

// Resolve merges the connection layers field by field, the first non-empty value wins.
// Layers are expected from the most specific (per item) to the least specific (command line).
func Resolve(layers ...Connection) Connection {
	var resolved Connection
	for _, layer := range layers {
		// mergo only fails when dst and src have different types
		_ = mergo.Merge(&resolved, layer)
	}
	return resolved
}

// String returns the context and host of the connection, for error reporting.
func (c Connection) String() string {
	context := c.Context
	if context == "" {
		context = "current-context"
	}
	if c.Host == "" {
		return context
	}
	return fmt.Sprintf("%s (%s)", context, c.Host)
}

// NewRESTConfig loads the kubeconfig and overrides it with the connection fields.
func NewRESTConfig(conn Connection, timeout time.Duration) (*rest.Config, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if conn.Kubeconfig != "" {
		rules.ExplicitPath = conn.Kubeconfig
	}

	overrides := &clientcmd.ConfigOverrides{
		CurrentContext: conn.Context,
	}
	overrides.ClusterInfo.Server = conn.Host
	overrides.ClusterInfo.CertificateAuthority = conn.SSLCACert
	overrides.AuthInfo.Token = conn.APIKey
	overrides.AuthInfo.ClientCertificate = conn.CertFile
	overrides.AuthInfo.ClientKey = conn.KeyFile
	overrides.AuthInfo.Username = conn.Username
	overrides.AuthInfo.Password = conn.Password

	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, &ConnectionError{Context: conn.Context, Host: conn.Host, Err: fmt.Errorf("kubeconfig load failed: %w", err)}
	}

	cfg.Timeout = timeout
	cfg.QPS = 50
	cfg.Burst = 100

	return cfg, nil
}

// RequireCredentials returns a MissingCredentialsError if the config
// carries no token, client certificate, basic auth or auth plugin.
func RequireCredentials(cfg *rest.Config) error {
	switch {
	case cfg.BearerToken != "", cfg.BearerTokenFile != "":
		return nil
	case cfg.TLSClientConfig.CertFile != "", len(cfg.TLSClientConfig.CertData) > 0:
		return nil
	case cfg.Username != "":
		return nil
	case cfg.AuthProvider != nil, cfg.ExecProvider != nil:
		return nil
	}
	return &MissingCredentialsError{Host: cfg.Host}
}
