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
	"sync"

	"github.com/stefanprodan/kubetpl/pkg/applier"
	"github.com/stefanprodan/kubetpl/pkg/cluster"
	"github.com/stefanprodan/kubetpl/pkg/pipeline"
)

// clusterCache memoizes the clients per resolved connection,
// items that target the same cluster share them.
type clusterCache struct {
	mu      sync.Mutex
	entries map[cluster.Connection]*clusterEntry
	build   func(conn cluster.Connection) (*cluster.Clients, error)
}

// clusterEntry is built once, the cache lock is not held while building.
type clusterEntry struct {
	once    sync.Once
	clients *cluster.Clients
	err     error
}

func newClusterCache(build func(conn cluster.Connection) (*cluster.Clients, error)) *clusterCache {
	return &clusterCache{
		entries: map[cluster.Connection]*clusterEntry{},
		build:   build,
	}
}

var clusters = newClusterCache(newClients)

func (c *clusterCache) get(conn cluster.Connection) (*cluster.Clients, error) {
	c.mu.Lock()
	entry, ok := c.entries[conn]
	if !ok {
		entry = &clusterEntry{}
		c.entries[conn] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.clients, entry.err = c.build(conn)
	})
	return entry.clients, entry.err
}

func newClients(conn cluster.Connection) (*cluster.Clients, error) {
	restConfig, err := cluster.NewRESTConfig(conn, rootArgs.timeout)
	if err != nil {
		return nil, err
	}

	if err := cluster.RequireCredentials(restConfig); err != nil {
		return nil, err
	}

	clients, err := cluster.NewClients(restConfig)
	if err != nil {
		return nil, &cluster.ConnectionError{Context: conn.Context, Host: conn.Host, Err: err}
	}
	return clients, nil
}

// newReader is replaced in tests.
var newReader pipeline.ReaderFactory = func(conn cluster.Connection) (pipeline.LiveReader, error) {
	clients, err := clusters.get(conn)
	if err != nil {
		return nil, err
	}
	return cluster.NewReader(clients.Client, clients.Discovery, conn, cfg.Retry.Backoff()), nil
}

// newApplier is replaced in tests.
var newApplier = func(opts applier.Options) pipeline.ApplierFactory {
	return func(conn cluster.Connection) (pipeline.ObjectApplier, error) {
		clients, err := clusters.get(conn)
		if err != nil {
			return nil, err
		}
		return applier.New(clients.Client, clients.Poller, cfg.Owner(), opts), nil
	}
}

// cliConnection returns the connection layer set with the kubeconfig flags.
func cliConnection() cluster.Connection {
	value := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	return cluster.Connection{
		Kubeconfig: value(kubeconfigArgs.KubeConfig),
		Context:    value(kubeconfigArgs.Context),
		Host:       value(kubeconfigArgs.APIServer),
		APIKey:     value(kubeconfigArgs.BearerToken),
		SSLCACert:  value(kubeconfigArgs.CAFile),
		CertFile:   value(kubeconfigArgs.CertFile),
		KeyFile:    value(kubeconfigArgs.KeyFile),
		Username:   value(kubeconfigArgs.Username),
		Password:   value(kubeconfigArgs.Password),
	}
}
