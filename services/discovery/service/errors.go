// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package service

import (
	"context"
	"errors"
	"strings"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
)

// errorSummaries maps each error category to the short, human-oriented
// hint surfaced as error_summary. The machine-oriented cause goes in the
// response's Error field instead.
var errorSummaries = map[domain.ErrorCategory]string{
	domain.ErrNoToolsFound:              "No tool matched your request. Try rephrasing or check the suggestions.",
	domain.ErrLowConfidence:             "No tool matched with enough confidence. The closest candidates are listed below.",
	domain.ErrParameterExtractionFailed: "The request was matched to a tool but its parameters could not be determined.",
	domain.ErrToolExecutionFailed:       "The selected tool ran but reported a failure.",
	domain.ErrSystemError:               "An internal error prevented discovery from completing.",
	domain.ErrNetworkError:              "A network error interrupted discovery. Retrying may help.",
	domain.ErrAuthError:                 "A provider rejected the configured credentials.",
	domain.ErrRateLimitError:            "A provider rate limit was hit. Retry after a short wait.",
	domain.ErrConstraintViolation:       "The best-matching tool declares limitations that conflict with this request.",
}

// summaryFor returns the human hint for a category, falling back to the
// SystemError hint for anything unrecognized.
func summaryFor(category domain.ErrorCategory) string {
	if s, ok := errorSummaries[category]; ok {
		return s
	}
	return errorSummaries[domain.ErrSystemError]
}

// routeErrorKind classifies a router error for metrics: timeout, network,
// parameter, or execution.
func routeErrorKind(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") ||
		strings.Contains(msg, "dial") || strings.Contains(msg, "dns"):
		return "network"
	case strings.Contains(msg, "parameter") || strings.Contains(msg, "argument") ||
		strings.Contains(msg, "invalid input"):
		return "parameter"
	default:
		return "execution"
	}
}

// routeErrorCategory maps a router error kind onto the closed error
// category set.
func routeErrorCategory(kind string) domain.ErrorCategory {
	switch kind {
	case "timeout", "network":
		return domain.ErrNetworkError
	case "parameter":
		return domain.ErrParameterExtractionFailed
	default:
		return domain.ErrToolExecutionFailed
	}
}
