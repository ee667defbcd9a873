// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

// MaxCodeBytes is the largest code submission accepted over HTTP.
const MaxCodeBytes = 256 * 1024

// DefaultServiceName is reported by the health endpoint.
const DefaultServiceName = "self-healing-auditor"

// =============================================================================
// Shared Validator Instance
// =============================================================================

var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("maxbytes", validateMaxCodeBytes)
}

// validateMaxCodeBytes checks byte length rather than rune count so large
// multi-byte payloads cannot slip past the limit.
func validateMaxCodeBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxCodeBytes
}

// =============================================================================
// Request Types
// =============================================================================

// CodeSubmission is the body of POST /api/audit.
//
// # Description
//
// Code is passed to the analysis capability as-is. Empty code is accepted;
// the analyzer reports on degenerate input rather than the service
// rejecting it. Only the size is bounded.
//
// # Validation
//
//   - Code: at most MaxCodeBytes bytes
type CodeSubmission struct {
	Code string `json:"code" validate:"maxbytes"`
}

// Validate checks the submission against its validation tags.
func (s *CodeSubmission) Validate() error {
	return requestValidate.Struct(s)
}

// =============================================================================
// Response Types
// =============================================================================

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
