// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package parammapper prompts an LLM to map a natural-language request
// onto a tool's JSON-Schema parameters, then validates and
// defaults the result.
package parammapper

// CriticalFields are parameter names that must never be silently
// defaulted: a missing critical field is a real gap the caller should be
// asked about, never papered over.
var CriticalFields = map[string]bool{
	"host": true, "hosts": true, "file": true, "path": true,
	"url": true, "endpoint": true, "target": true, "destination": true,
}

// schemaProperty is the subset of JSON-Schema this package inspects.
type schemaProperty struct {
	Type        string
	Description string
	Default     any
	HasDefault  bool
	Format      string
	Enum        []string
}

// parseSchema extracts {name: schemaProperty} and the required-field list
// from a tool's raw input_schema map (as produced by encoding/json
// unmarshaling of a JSON-Schema document).
func parseSchema(inputSchema map[string]any) (map[string]schemaProperty, []string) {
	props := make(map[string]schemaProperty)

	rawProps, _ := inputSchema["properties"].(map[string]any)
	for name, raw := range rawProps {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		p := schemaProperty{}
		if t, ok := m["type"].(string); ok {
			p.Type = t
		}
		if d, ok := m["description"].(string); ok {
			p.Description = d
		}
		if f, ok := m["format"].(string); ok {
			p.Format = f
		}
		if def, ok := m["default"]; ok {
			p.Default = def
			p.HasDefault = true
		}
		if enumRaw, ok := m["enum"].([]any); ok {
			for _, e := range enumRaw {
				if s, ok := e.(string); ok {
					p.Enum = append(p.Enum, s)
				}
			}
		}
		props[name] = p
	}

	var required []string
	if reqRaw, ok := inputSchema["required"].([]any); ok {
		for _, r := range reqRaw {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
	} else if reqRaw, ok := inputSchema["required"].([]string); ok {
		required = reqRaw
	}
	return props, required
}

// inputTypeFor maps a schema property's JSON-Schema type to a
// clarification question's input_type.
func inputTypeFor(p schemaProperty) string {
	if len(p.Enum) > 0 {
		return "choice"
	}
	switch p.Type {
	case "integer", "number":
		return "number"
	case "boolean":
		return "boolean"
	default:
		return "text"
	}
}

// guidanceFor returns parameter-specific example guidance drawn from
// naming heuristics, used in extraction warnings for missing required
// fields.
func guidanceFor(name string, p schemaProperty) string {
	switch name {
	case "path", "file":
		return "e.g. \"/var/log/app.log\" or \"./config.yaml\""
	case "url", "endpoint":
		return "e.g. \"https://api.example.com/v1/resource\""
	case "host", "hosts":
		return "e.g. \"example.com\" or \"10.0.0.5\""
	case "email":
		return "e.g. \"user@example.com\""
	case "date", "date_time", "datetime":
		return "e.g. \"2026-01-15\" or an ISO-8601 timestamp"
	}
	if p.Format == "uri" {
		return "e.g. a fully qualified URL"
	}
	if len(p.Enum) > 0 {
		return "one of: " + joinStrings(p.Enum, ", ")
	}
	return "please supply an explicit value in the request"
}

func joinStrings(items []string, sep string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += sep
		}
		out += s
	}
	return out
}
