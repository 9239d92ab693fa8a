// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package parammapper

import (
	"fmt"

	"github.com/go-openapi/strfmt"
)

// formatRegistry validates string parameters against their declared
// JSON-Schema "format" (uri, email, date-time, and the rest of the
// strfmt default set).
var formatRegistry = strfmt.Default

// validateFormats checks each extracted string value against its schema
// property's declared format, returning one warning per mismatch. Format
// mismatches never change the extraction status: a wrong-looking value
// the user actually supplied is still their value, per the
// never-substitute rule.
func validateFormats(params map[string]any, props map[string]schemaProperty) []string {
	var warnings []string
	for name, p := range props {
		if p.Format == "" {
			continue
		}
		raw, present := params[name]
		if !present {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		if !formatRegistry.ContainsName(p.Format) {
			continue
		}
		if !formatRegistry.Validates(p.Format, s) {
			warnings = append(warnings, fmt.Sprintf("parameter %q does not look like a valid %s: %q", name, p.Format, s))
		}
	}
	return warnings
}
