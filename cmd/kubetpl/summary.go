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
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/stefanprodan/kubetpl/pkg/drift"
	"github.com/stefanprodan/kubetpl/pkg/pipeline"
)

func printSummary(writer io.Writer, results []*pipeline.Result) {
	var rows [][]string
	for _, r := range results {
		counts := r.Counts()
		rows = append(rows, []string{
			fmt.Sprintf("#%d %s", r.Index, r.Item.Template),
			string(r.Phase),
			strconv.Itoa(counts[drift.CreatedAction]),
			strconv.Itoa(counts[drift.ConfiguredAction]),
			strconv.Itoa(counts[drift.UnchangedAction]),
			strconv.Itoa(counts[drift.DeletedAction]),
			r.Status(),
		})
	}
	printTable(writer, []string{"item", "phase", "created", "configured", "unchanged", "deleted", "status"}, rows)
}

func printTable(writer io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(writer)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
}

// logFailures prints the failed and skipped items to stderr.
func logFailures(results []*pipeline.Result) {
	for _, r := range results {
		switch {
		case r.Err != nil:
			logger.Failuref("%s failed, error: %v", r.ID(), r.Err)
		case r.Skipped:
			logger.Actionf("%s skipped, kube version constraint %q not met", r.ID(), r.Item.KubeVersion)
		}
	}
}
