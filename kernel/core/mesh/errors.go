package mesh

import (
	"errors"
	"fmt"
)

// Error codes for mesh operations
const (
	// Construction errors
	ErrCodeInvalidConfig   = "INVALID_CONFIG"
	ErrCodeInvalidTopology = "INVALID_TOPOLOGY"
	ErrCodeInvalidSchedule = "INVALID_SCHEDULE"

	// Variant errors
	ErrCodeUnknownPolicy  = "UNKNOWN_POLICY"
	ErrCodeUnknownProcess = "UNKNOWN_PROCESS"

	// Run errors
	ErrCodeDeviceNotFound = "DEVICE_NOT_FOUND"
	ErrCodeExportFailed   = "EXPORT_FAILED"
	ErrCodeObserverFailed = "OBSERVER_FAILED"
	ErrCodeCancelled      = "CANCELLED"
)

// MeshError is a coded error carrying structured context
type MeshError struct {
	Code    string                 // Error code for programmatic handling
	Message string                 // Human-readable message
	Context map[string]interface{} // Additional context
	Cause   error                  // Underlying error
}

// Error implements the error interface
func (e *MeshError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *MeshError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *MeshError) WithContext(key string, value interface{}) *MeshError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewMeshError creates a new mesh error
func NewMeshError(code, message string) *MeshError {
	return &MeshError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with mesh error context
func WrapError(code, message string, cause error) *MeshError {
	return &MeshError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// HasCode reports whether err wraps a mesh error with the given code
func HasCode(err error, code string) bool {
	var me *MeshError
	return errors.As(err, &me) && me.Code == code
}

// Common error constructors

func ErrInvalidConfig(field string, value interface{}, reason string) *MeshError {
	return NewMeshError(ErrCodeInvalidConfig, "invalid configuration").
		WithContext("field", field).
		WithContext("value", value).
		WithContext("reason", reason)
}

func ErrInvalidTopology(reason string) *MeshError {
	return NewMeshError(ErrCodeInvalidTopology, "invalid topology").
		WithContext("reason", reason)
}

func ErrInvalidSchedule(period, tvar float64) *MeshError {
	return NewMeshError(ErrCodeInvalidSchedule, "invalid round schedule").
		WithContext("period", period).
		WithContext("tvar", tvar)
}

func ErrUnknownPolicy(name string, cause error) *MeshError {
	return WrapError(ErrCodeUnknownPolicy, "unknown termination policy", cause).
		WithContext("policy", name)
}

func ErrUnknownProcess(name string) *MeshError {
	return NewMeshError(ErrCodeUnknownProcess, "unknown process kind").
		WithContext("process", name)
}

func ErrDeviceNotFound(id uint32) *MeshError {
	return NewMeshError(ErrCodeDeviceNotFound, "device not found").
		WithContext("device", id)
}

func ErrExportFailed(id uint32, cause error) *MeshError {
	return WrapError(ErrCodeExportFailed, "export encoding failed", cause).
		WithContext("device", id)
}

func ErrObserverFailed(tick float64, cause error) *MeshError {
	return WrapError(ErrCodeObserverFailed, "observer failed", cause).
		WithContext("tick", tick)
}

func ErrCancelled(now float64, cause error) *MeshError {
	return WrapError(ErrCodeCancelled, "run cancelled", cause).
		WithContext("time", now)
}
