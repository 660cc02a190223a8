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
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"
)

func TestConfig(t *testing.T) {
	g := NewWithT(t)

	t.Run("views the config", func(t *testing.T) {
		output, err := executeCommand("config view")
		g.Expect(err).NotTo(HaveOccurred())

		g.Expect(output).To(ContainSubstring("kind: Config"))
		g.Expect(output).To(ContainSubstring("concurrency: 4"))
		g.Expect(output).To(ContainSubstring("name: kubetpl"))
	})

	t.Run("views the ignore rules", func(t *testing.T) {
		output, err := executeCommand("config view --rules")
		g.Expect(err).NotTo(HaveOccurred())

		g.Expect(output).To(MatchRegexp(`Service\s+spec\.clusterIP`))
		g.Expect(output).To(MatchRegexp(`Namespace\s+metadata\.labels\["kubernetes\.io/metadata\.name"\]`))
		g.Expect(output).NotTo(MatchRegexp(`ConfigMap\s+metadata\.annotations\s*\n`))
	})

	t.Run("views the ignore rules of a project", func(t *testing.T) {
		g.Expect(makeTestFs(testProject("apps"))).To(Succeed())

		output, err := executeCommand("config view --rules -c /work/kubetpl.yaml")
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(output).To(MatchRegexp(`ConfigMap\s+metadata\.annotations\s*\n`))

		_, err = executeCommand("config view -c /work/kubetpl.yaml")
		g.Expect(err).To(HaveOccurred())
	})

	t.Run("writes the config", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)

		output, err := executeCommand("config init")
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(output).To(ContainSubstring("config written to"))

		_, err = os.Stat(filepath.Join(home, ".kubetpl", "config"))
		g.Expect(err).NotTo(HaveOccurred())

		_, err = executeCommand("config init")
		g.Expect(err).To(MatchError(ContainSubstring("already exists")))

		_, err = executeCommand("config init --force")
		g.Expect(err).NotTo(HaveOccurred())
	})
}
