// Package errors provides the typed error taxonomy used across codecortex.
//
// CieError carries three levels of information the same way the CLI-facing
// UserError it's descended from did: what went wrong (Message), additional
// diagnostic context (Context), and how to fix it (Remediation). Unlike a
// CLI exit-code error, CieError is keyed by a fixed error Kind so callers can
// branch on failure mode programmatically (storage_locked vs. timeout vs.
// provider_unavailable), not just print a message.
package errors

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Kind enumerates the error taxonomy.
type Kind string

const (
	KindStorageLocked       Kind = "storage_locked"
	KindSchemaIncompatible  Kind = "schema_incompatible"
	KindMigrationFailed     Kind = "migration_failed"
	KindCorruptedIndex      Kind = "corrupted_index"
	KindIOError             Kind = "io_error"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindDimensionMismatch   Kind = "dimension_mismatch"
	KindEmbeddingZeroNorm   Kind = "embedding_zero_norm"
	KindParseError          Kind = "parse_error"
	KindIntentUnclassifiable Kind = "intent_unclassifiable"
	KindTimeout             Kind = "timeout"
	KindCancelled           Kind = "cancelled"
	KindStorageUnavailable  Kind = "storage_unavailable"
	KindEmptyIndex          Kind = "empty_index"
)

// Context is the structured context attached to a CieError.
type Context struct {
	Workspace string `json:"workspace,omitempty"`
	File      string `json:"file,omitempty"`
	Symbol    string `json:"symbol,omitempty"`
	PackID    string `json:"pack_id,omitempty"`
}

// CieError is the typed error codecortex returns for the failure kinds
// above. Not every error is one: lower-level failures (for example the
// storage package's SQL and file errors) reach callers as plain wrapped
// errors.
type CieError struct {
	Kind        Kind
	Message     string
	Context     Context
	Remediation []string
	Err         error
}

// Error implements the error interface.
func (e *CieError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to the underlying cause.
func (e *CieError) Unwrap() error {
	return e.Err
}

// New constructs a CieError of the given kind.
func New(kind Kind, message string, ctx Context, remediation []string, cause error) *CieError {
	return &CieError{
		Kind:        kind,
		Message:     message,
		Context:     ctx,
		Remediation: remediation,
		Err:         cause,
	}
}

// StorageLocked builds a storage_locked error carrying the holding pid, per
// spec.md §8's "the second [process] fails with storage_locked{pid}".
func StorageLocked(workspace string, holderPID int) *CieError {
	return &CieError{
		Kind:    KindStorageLocked,
		Message: fmt.Sprintf("workspace is locked by process %d", holderPID),
		Context: Context{Workspace: workspace},
		Remediation: []string{
			fmt.Sprintf("stop the process holding the lock (pid %d), or wait for it to exit", holderPID),
		},
	}
}

// ProviderUnavailable builds a provider_unavailable error with remediation
// steps naming the provider and the probe that failed.
func ProviderUnavailable(provider, probe string, cause error) *CieError {
	return &CieError{
		Kind:    KindProviderUnavailable,
		Message: fmt.Sprintf("%s provider is unavailable", provider),
		Remediation: []string{
			fmt.Sprintf("%s; verify the provider is configured and reachable", probe),
			"configure a different provider or relax the corresponding *_requirement setting to optional/disabled",
		},
		Err: cause,
	}
}

// ErrorJSON is the JSON-serializable projection of a CieError.
type ErrorJSON struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Context     Context  `json:"context"`
	Remediation []string `json:"remediation,omitempty"`
}

// ToJSON converts the error to its JSON-serializable shape.
func (e *CieError) ToJSON() ErrorJSON {
	return ErrorJSON{
		Code:        string(e.Kind),
		Message:     e.Message,
		Context:     e.Context,
		Remediation: e.Remediation,
	}
}

// Color definitions for terminal formatting, matching the teacher's palette.
var (
	colorKind        = color.New(color.FgRed, color.Bold)
	colorContext     = color.New(color.FgYellow)
	colorRemediation = color.New(color.FgGreen)
)

// Format renders the error for terminal display. Color output respects
// NO_COLOR and the noColor parameter. Colors are disabled on per-call
// copies of the palette, never on global color state, so concurrent
// callers aren't affected.
func (e *CieError) Format(noColor bool) string {
	colorKind, colorContext, colorRemediation := *colorKind, *colorContext, *colorRemediation
	if noColor || os.Getenv("NO_COLOR") != "" {
		colorKind.DisableColor()
		colorContext.DisableColor()
		colorRemediation.DisableColor()
	}

	var out strings.Builder
	out.WriteString(colorKind.Sprintf("[%s] ", e.Kind))
	out.WriteString(e.Message)
	out.WriteString("\n")

	if e.Context.Workspace != "" || e.Context.File != "" || e.Context.Symbol != "" || e.Context.PackID != "" {
		out.WriteString(colorContext.Sprint("Context: "))
		var parts []string
		if e.Context.Workspace != "" {
			parts = append(parts, "workspace="+e.Context.Workspace)
		}
		if e.Context.File != "" {
			parts = append(parts, "file="+e.Context.File)
		}
		if e.Context.Symbol != "" {
			parts = append(parts, "symbol="+e.Context.Symbol)
		}
		if e.Context.PackID != "" {
			parts = append(parts, "pack_id="+e.Context.PackID)
		}
		out.WriteString(strings.Join(parts, " "))
		out.WriteString("\n")
	}

	for _, step := range e.Remediation {
		out.WriteString(colorRemediation.Sprint("Fix:     "))
		out.WriteString(step)
		out.WriteString("\n")
	}

	return out.String()
}

// Fatal prints the error and exits with a non-zero status. Intended for the
// cmd/codecortex entrypoint only — library code must never call this.
func Fatal(err error, jsonOutput bool) {
	if err == nil {
		return
	}

	if ce, ok := err.(*CieError); ok {
		if jsonOutput {
			enc := json.NewEncoder(os.Stderr)
			enc.SetIndent("", "  ")
			_ = enc.Encode(ce.ToJSON())
		} else {
			fmt.Fprint(os.Stderr, ce.Format(false))
		}
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// MultiError aggregates non-fatal errors collected during a pass (e.g. the
// per-file parse errors gathered during an ingestion run summary). Nil
// errors passed to Append are ignored.
type MultiError struct {
	Errors []error
}

// Append adds err to the collection, ignoring nil.
func (m *MultiError) Append(err error) {
	if err == nil {
		return
	}
	m.Errors = append(m.Errors, err)
}

// HasErrors reports whether any error was collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Error implements the error interface by joining messages with "; ".
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return ""
	}
	parts := make([]string, len(m.Errors))
	for i, e := range m.Errors {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// Unwrap supports errors.Is/errors.As over the full set (Go 1.20+ multi-error).
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// ErrOrNil returns m as an error if it holds any errors, else nil — so
// callers can write `return multiErr.ErrOrNil()` without an extra branch.
func (m *MultiError) ErrOrNil() error {
	if m == nil || len(m.Errors) == 0 {
		return nil
	}
	return m
}
