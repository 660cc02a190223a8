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
	"errors"
	"sync"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/stefanprodan/kubetpl/pkg/cluster"
)

func TestClusterCache(t *testing.T) {
	g := NewWithT(t)

	release := make(chan struct{})
	var mu sync.Mutex
	calls := map[string]int{}

	cache := newClusterCache(func(conn cluster.Connection) (*cluster.Clients, error) {
		mu.Lock()
		calls[conn.Context]++
		mu.Unlock()

		switch conn.Context {
		case "slow":
			<-release
		case "unreachable":
			return nil, errors.New("connection refused")
		}
		return &cluster.Clients{}, nil
	})

	var wg sync.WaitGroup
	slow := make([]*cluster.Clients, 3)
	for i := range slow {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slow[i], _ = cache.get(cluster.Connection{Context: "slow"})
		}(i)
	}

	// other connections are not blocked by a pending one
	done := make(chan error, 1)
	go func() {
		_, err := cache.get(cluster.Connection{Context: "fast"})
		done <- err
	}()
	g.Eventually(done, "5s").Should(Receive(BeNil()))

	close(release)
	wg.Wait()

	g.Expect(slow[0]).NotTo(BeNil())
	g.Expect(slow[1]).To(BeIdenticalTo(slow[0]))
	g.Expect(slow[2]).To(BeIdenticalTo(slow[0]))

	_, err := cache.get(cluster.Connection{Context: "unreachable"})
	g.Expect(err).To(MatchError("connection refused"))
	_, err = cache.get(cluster.Connection{Context: "unreachable"})
	g.Expect(err).To(HaveOccurred())

	g.Expect(calls).To(Equal(map[string]int{"slow": 1, "fast": 1, "unreachable": 1}))
}
