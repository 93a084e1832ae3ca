package domain

import (
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeExtraction ErrorType = "extraction"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeRepair     ErrorType = "repair"
	ErrorTypeSchema     ErrorType = "schema"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeStorage    ErrorType = "storage"
	ErrorTypeAPI        ErrorType = "api"
)

// Sentinel errors for the job-local failure taxonomy.
var (
	// ErrSchemaNotFound indicates an unknown table kind. A configuration
	// error local to the requesting job, never a crash.
	ErrSchemaNotFound = errors.New("schema not found")
	// ErrExtractionEmpty indicates no parseable table structure on the page.
	ErrExtractionEmpty = errors.New("no parseable table structure found")
	// ErrRepairTimeout indicates the generative call exceeded its deadline.
	ErrRepairTimeout = errors.New("repair call exceeded deadline")
	// ErrDuplicateJob indicates an append for an already-stored job id.
	ErrDuplicateJob = errors.New("result already recorded for job")
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func ExtractionError(message string, err error) *DomainError {
	return NewError(ErrorTypeExtraction, message, err)
}

func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func RepairError(message string, err error) *DomainError {
	return NewError(ErrorTypeRepair, message, err)
}

func SchemaError(message string, err error) *DomainError {
	return NewError(ErrorTypeSchema, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func StorageError(message string, err error) *DomainError {
	return NewError(ErrorTypeStorage, message, err)
}

func APIError(message string, err error) *DomainError {
	return NewError(ErrorTypeAPI, message, err)
}
