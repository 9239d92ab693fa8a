// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/embedstore"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33")).Padding(0, 1)
	borderStyle = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1)
)

// runInspect loads the embedding store from --dir and browses its
// per-tool metadata in a table.
func runInspect(cmd *cobra.Command, args []string) error {
	store := embedstore.New(embedstore.NewFileStore(embeddingDir, false))
	if err := store.Load(); err != nil {
		return err
	}

	stats := store.Stats()
	if stats.ToolCount == 0 {
		fmt.Printf("embedding store at %s is empty (run reindex first)\n", embeddingDir)
		return nil
	}

	names := make([]string, 0, stats.ToolCount)
	for name := range store.Vectors() {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]table.Row, 0, len(names))
	for _, name := range names {
		meta, ok := store.Metadata(name)
		if !ok {
			rows = append(rows, table.Row{name, "-", "-", "-", "no metadata"})
			continue
		}
		enabled := "yes"
		if !meta.Enabled {
			enabled = "no"
		}
		hash := meta.ContentHash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		updated := time.Unix(meta.LastUpdatedEpoch, 0).Format("2006-01-02 15:04")
		rows = append(rows, table.Row{name, fmt.Sprintf("%d", meta.Dims), enabled, hash, updated})
	}

	columns := []table.Column{
		{Title: "Tool", Width: 28},
		{Title: "Dims", Width: 6},
		{Title: "Enabled", Width: 8},
		{Title: "Hash", Width: 14},
		{Title: "Updated", Width: 18},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(15),
	)

	m := inspectModel{
		table:  t,
		header: fmt.Sprintf("embedding store: %s (%d tools, %d dims)", embeddingDir, stats.ToolCount, stats.Dims),
	}
	_, err := tea.NewProgram(m).Run()
	return err
}

type inspectModel struct {
	table  table.Model
	header string
}

func (m inspectModel) Init() tea.Cmd { return nil }

func (m inspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m inspectModel) View() string {
	return headerStyle.Render(m.header) + "\n" +
		borderStyle.Render(m.table.View()) + "\n" +
		helpStyle.Render("↑/↓ move · q quit")
}
