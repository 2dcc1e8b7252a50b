package errhandling

import (
	"errors"
	"fmt"
)

// Sentinel errors of the pipeline engine.
var (
	ErrStepNotFound            = errors.New("step not found")
	ErrPluginAlreadyRegistered = errors.New("plugin already registered")
	ErrPluginNotRegistered     = errors.New("plugin not registered")
	ErrRetryExhausted          = errors.New("retry exhausted")
)

// StepNotFoundError reports a step whose capability is not registered.
type StepNotFoundError struct {
	Kind string
	Name string
}

func (e *StepNotFoundError) Error() string {
	return fmt.Sprintf("%s: no %s capability named %q", ErrStepNotFound, e.Kind, e.Name)
}

func (e *StepNotFoundError) Is(target error) bool {
	return target == ErrStepNotFound
}

// StepExecutionError reports a capability that failed while executing a step.
type StepExecutionError struct {
	Index int
	Kind  string
	Name  string
	Err   error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %d (%s %q) failed: %v", e.Index, e.Kind, e.Name, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}

// RetryExhaustedError is returned when every attempt of a recovered operation failed.
type RetryExhaustedError struct {
	Label    string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("%s failed after %d attempts: %v", e.Label, e.Attempts, e.Err)
	}
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

// PluginLifecycleError reports a failing plugin initialize or cleanup hook.
type PluginLifecycleError struct {
	Plugin string
	Hook   string
	Err    error
}

func (e *PluginLifecycleError) Error() string {
	return fmt.Sprintf("plugin %q %s: %v", e.Plugin, e.Hook, e.Err)
}

func (e *PluginLifecycleError) Unwrap() error {
	return e.Err
}
