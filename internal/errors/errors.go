// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrEndOfStream            = errors.New("end of observation stream")
	ErrDataGap                = errors.New("data gap in observation stream")
	ErrLegRejected            = errors.New("leg rejected")
	ErrFillTimeout            = errors.New("fill confirmation timed out")
	ErrReconciliationMismatch = errors.New("fill references unknown broker order")
	ErrConfigInvalid          = errors.New("invalid configuration")
	ErrNotAuthenticated       = errors.New("not authenticated")
	ErrSessionExpired         = errors.New("session expired")
	ErrMarketClosed           = errors.New("market is closed")
	ErrInsufficientCapital    = errors.New("insufficient capital for one lot")
	ErrGroupNotFound          = errors.New("order group not found")
	ErrConnectionFailed       = errors.New("connection failed")
	ErrDataNotFound           = errors.New("data not found")
)

// BrokerError represents an error from the broker API.
type BrokerError struct {
	Code    string
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("broker error [%s]: %s", e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(code, message string, err error) *BrokerError {
	return &BrokerError{Code: code, Message: message, Err: err}
}

// GroupError represents a failure in a multi-leg order group's lifecycle.
type GroupError struct {
	GroupID string
	LegID   string
	Action  string
	Reason  string
	Err     error
}

func (e *GroupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("group error [%s] leg %s %s: %s: %v", e.GroupID, e.LegID, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("group error [%s] leg %s %s: %s", e.GroupID, e.LegID, e.Action, e.Reason)
}

func (e *GroupError) Unwrap() error {
	return e.Err
}

// NewGroupError creates a new GroupError.
func NewGroupError(groupID, legID, action, reason string, err error) *GroupError {
	return &GroupError{GroupID: groupID, LegID: legID, Action: action, Reason: reason, Err: err}
}

// FeedError represents a market-data feed problem.
type FeedError struct {
	Source  string
	Symbol  string
	Message string
	Err     error
}

func (e *FeedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("feed error [%s] %s: %s: %v", e.Source, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("feed error [%s] %s: %s", e.Source, e.Symbol, e.Message)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

// NewFeedError creates a new FeedError.
func NewFeedError(source, symbol, message string, err error) *FeedError {
	return &FeedError{Source: source, Symbol: symbol, Message: message, Err: err}
}

// ReconcileError is fatal in live mode: a fill callback that cannot be
// matched to an internal leg risks unmanaged real exposure.
type ReconcileError struct {
	BrokerOrderID string
	Message       string
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("reconciliation error [%s]: %s", e.BrokerOrderID, e.Message)
}

func (e *ReconcileError) Unwrap() error {
	return ErrReconciliationMismatch
}

// NewReconcileError creates a new ReconcileError.
func NewReconcileError(brokerOrderID, message string) *ReconcileError {
	return &ReconcileError{BrokerOrderID: brokerOrderID, Message: message}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
