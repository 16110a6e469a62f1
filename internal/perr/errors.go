// Package perr defines the structured error kinds pylon's components raise:
// small typed error values carrying the fields callers need, discoverable via
// errors.As rather than string matching.
package perr

import (
	"errors"
	"fmt"
)

// MissingDependencyError is raised by the dependency resolver when a plugin
// declares a depends_on entry that is neither in the metadata map nor in the
// set of already-activated plugins.
type MissingDependencyError struct {
	Missing    string
	RequiredBy string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("missing dependency %q required by %q", e.Missing, e.RequiredBy)
}

// NewMissingDependencyError constructs a MissingDependencyError.
func NewMissingDependencyError(missing, requiredBy string) *MissingDependencyError {
	return &MissingDependencyError{Missing: missing, RequiredBy: requiredBy}
}

// IsMissingDependency reports whether err is (or wraps) a MissingDependencyError.
func IsMissingDependency(err error) bool {
	var e *MissingDependencyError
	return errors.As(err, &e)
}

// CircularDependencyError is raised when the resolver re-enters a node that is
// still being visited.
type CircularDependencyError struct {
	A, B string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency between %q and %q", e.A, e.B)
}

// NewCircularDependencyError constructs a CircularDependencyError.
func NewCircularDependencyError(a, b string) *CircularDependencyError {
	return &CircularDependencyError{A: a, B: b}
}

// IsCircularDependency reports whether err is (or wraps) a CircularDependencyError.
func IsCircularDependency(err error) bool {
	var e *CircularDependencyError
	return errors.As(err, &e)
}

// PluginError wraps any failure encountered while loading, preparing, or
// activating a single plugin. The plugin that failed never reaches the
// activated registry; other plugins continue.
type PluginError struct {
	Plugin string
	Stage  string // "metadata", "requirements", "import", "init"
	Err    error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %q failed at %s: %v", e.Plugin, e.Stage, e.Err)
}

func (e *PluginError) Unwrap() error { return e.Err }

// NewPluginError constructs a PluginError.
func NewPluginError(plugin, stage string, err error) *PluginError {
	return &PluginError{Plugin: plugin, Stage: stage, Err: err}
}

// TransportError marks a failure talking to an external broker, KV store, or
// peer. Components degrade gracefully rather than treating this as fatal,
// except where the feature is mandatory.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError constructs a TransportError.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var e *TransportError
	return errors.As(err, &e)
}

// TimeoutError is raised by RPC call_with_timeout and surfaces to HTTP
// forwarding as a 504.
type TimeoutError struct {
	Name string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rpc call %q timed out", e.Name)
}

// NewTimeoutError constructs a TimeoutError.
func NewTimeoutError(name string) *TimeoutError {
	return &TimeoutError{Name: name}
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var e *TimeoutError
	return errors.As(err, &e)
}

// ConfigurationError marks an empty/unparseable settings tree or a missing
// required provider. Fatal at boot (process exits 1).
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

// NewConfigurationError constructs a ConfigurationError.
func NewConfigurationError(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}

// NotFoundError is a generic "no such X" error used by registries.
type NotFoundError struct {
	ResourceType string
	ResourceName string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.ResourceType, e.ResourceName)
}

// NewNotFoundError constructs a NotFoundError.
func NewNotFoundError(resourceType, resourceName string) *NotFoundError {
	return &NotFoundError{ResourceType: resourceType, ResourceName: resourceName}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}
