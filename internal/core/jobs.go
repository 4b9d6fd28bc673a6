// Package core provides the ports and service contracts for the postpilot job system.
package core

import (
	"github.com/postpilot/postpilot-go/internal/domain/model"
)

// CreateJobRequest represents a request to create a new job (re-exported from the model package).
// This is re-exported here for use in HTTP handlers to avoid direct coupling to the model package.
type CreateJobRequest = model.CreateJobRequest

// JobFilter represents list filtering options (re-exported from the model package).
// This is re-exported here for use in HTTP handlers to avoid direct coupling to the model package.
type JobFilter = model.JobFilter
