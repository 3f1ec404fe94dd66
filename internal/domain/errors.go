package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

type ErrorKind string

const (
	ErrorKind_ParseFailure           ErrorKind = "ParseFailure"
	ErrorKind_InsufficientMarketData ErrorKind = "InsufficientMarketData"
	ErrorKind_EmptyAllocation        ErrorKind = "EmptyAllocation"
	ErrorKind_AlignmentFailure       ErrorKind = "AlignmentFailure"
	ErrorKind_BacktestRangeTooEarly  ErrorKind = "BacktestRangeTooEarly"
	ErrorKind_BacktestRangeTooLarge  ErrorKind = "BacktestRangeTooLarge"
)

// EvalError carries enough context for a caller to retry with different
// options.
type EvalError struct {
	Kind          ErrorKind         `json:"kind"`
	Message       string            `json:"message"`
	Missing       map[string]string `json:"missing,omitempty"`
	Window        int               `json:"window,omitempty"`
	AsOf          *time.Time        `json:"asOf,omitempty"`
	PriceSource   PriceSource       `json:"priceSource,omitempty"`
	EarliestStart *time.Time        `json:"earliestStart,omitempty"`
	Cause         error             `json:"-"`
}

func (e *EvalError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if len(e.Missing) > 0 {
		parts := []string{}
		for _, symbol := range e.MissingSymbols() {
			parts = append(parts, fmt.Sprintf("%s (%s)", symbol, e.Missing[symbol]))
		}
		msg = fmt.Sprintf("%s [missing: %s]", msg, strings.Join(parts, ", "))
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Cause.Error())
	}
	return msg
}

func (e *EvalError) Unwrap() error {
	return e.Cause
}

func (e *EvalError) MissingSymbols() []string {
	out := make([]string, 0, len(e.Missing))
	for symbol := range e.Missing {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func NewEvalError(kind ErrorKind, format string, args ...any) *EvalError {
	return &EvalError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

func NewMissingDataError(missing map[string]string, format string, args ...any) *EvalError {
	e := NewEvalError(ErrorKind_InsufficientMarketData, format, args...)
	e.Missing = missing
	return e
}

func IsErrorKind(err error, kind ErrorKind) bool {
	var evalErr *EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Kind == kind
	}
	return false
}

// Diagnostics collects missing-symbol reasons and free-form notes over a
// run. It is owned by a single run and never shared.
type Diagnostics struct {
	Missing map[string]string `json:"missing,omitempty"`
	Notes   []string          `json:"notes,omitempty"`
}

func NewDiagnostics() *Diagnostics {
	return &Diagnostics{Missing: map[string]string{}}
}

// AddMissing keeps the first reason recorded for a symbol.
func (d *Diagnostics) AddMissing(symbol, reason string) {
	if _, ok := d.Missing[symbol]; !ok {
		d.Missing[symbol] = reason
	}
}

func (d *Diagnostics) AddNote(format string, args ...any) {
	d.Notes = append(d.Notes, fmt.Sprintf(format, args...))
}
