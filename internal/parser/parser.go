package parser

import (
	"context"
	"fmt"

	"hemicycle/internal/models"
)

// Parser defines the interface for different sync sources
type Parser interface {
	// Method returns the parser type (e.g., "zip", "json")
	Method() string

	// Parse downloads the given URL and writes every deputy it contains for
	// the legislature
	Parse(ctx context.Context, url, legislature string) (SyncResult, error)

	// Cleanup performs any necessary cleanup
	Cleanup() error
}

// DeputyWriter is where parsed deputies end up.
type DeputyWriter interface {
	SaveDeputies(ctx context.Context, legislature string, records []models.DeputyRecord) (int, error)
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	RunID       string `json:"run_id"`
	Method      string `json:"method"`
	Legislature string `json:"legislature"`
	Files       int    `json:"files"`
	Saved       int    `json:"saved"`
	Skipped     int    `json:"skipped"`
}

// ParseError represents a parsing error with a specific stage
type ParseError struct {
	Stage string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %s stage: %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError
func NewParseError(stage string, err error) *ParseError {
	return &ParseError{
		Stage: stage,
		Err:   err,
	}
}
