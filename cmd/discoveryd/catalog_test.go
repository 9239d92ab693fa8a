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
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalog_DefaultsToDemoTools(t *testing.T) {
	reg, err := loadCatalog("")
	require.NoError(t, err)

	tools, err := reg.ListEnabledTools(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, tools)

	_, found, err := reg.GetTool(context.Background(), "file_read")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestLoadCatalog_ParsesYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	doc := `
- name: log_tail
  description: Tail the last lines of a log file
  input_schema:
    type: object
    properties:
      path:
        type: string
    required: [path]
- name: disabled_tool
  description: Should not be listed
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	reg, err := loadCatalog(path)
	require.NoError(t, err)

	tools, err := reg.ListEnabledTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "log_tail", tools[0].Name)
	assert.Contains(t, tools[0].InputSchema, "properties")

	// Disabled tools are still resolvable by name, just not listed.
	_, found, err := reg.GetTool(context.Background(), "disabled_tool")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestLoadCatalog_MissingFile(t *testing.T) {
	_, err := loadCatalog("/does/not/exist.yaml")
	assert.Error(t, err)
}
