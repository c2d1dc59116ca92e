package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCieError_Error(t *testing.T) {
	cases := []struct {
		name string
		err  *CieError
		want string
	}{
		{
			name: "with underlying cause",
			err:  &CieError{Kind: KindIOError, Message: "write failed", Err: fmt.Errorf("disk full")},
			want: "io_error: write failed: disk full",
		},
		{
			name: "without underlying cause",
			err:  &CieError{Kind: KindTimeout, Message: "query timed out"},
			want: "timeout: query timed out",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Error())
		})
	}
}

func TestCieError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying")
	err := &CieError{Kind: KindIOError, Message: "wrap", Err: cause}
	assert.True(t, errors.Is(err, cause))
}

func TestStorageLocked(t *testing.T) {
	err := StorageLocked("/ws", 4321)
	require.Equal(t, KindStorageLocked, err.Kind)
	assert.Contains(t, err.Message, "4321")
	assert.Equal(t, "/ws", err.Context.Workspace)
	assert.NotEmpty(t, err.Remediation)
}

func TestProviderUnavailable(t *testing.T) {
	err := ProviderUnavailable("ollama", "GET /api/tags", fmt.Errorf("connection refused"))
	require.Equal(t, KindProviderUnavailable, err.Kind)
	assert.Len(t, err.Remediation, 2)
	assert.ErrorContains(t, err, "connection refused")
}

func TestCieError_ToJSON(t *testing.T) {
	err := &CieError{
		Kind:        KindParseError,
		Message:     "could not parse file",
		Context:     Context{Workspace: "/ws", File: "a.go"},
		Remediation: []string{"check syntax"},
	}
	j := err.ToJSON()
	assert.Equal(t, "parse_error", j.Code)
	assert.Equal(t, "a.go", j.Context.File)
}

func TestMultiError(t *testing.T) {
	var m MultiError
	m.Append(nil)
	m.Append(fmt.Errorf("first"))
	m.Append(fmt.Errorf("second"))

	require.True(t, m.HasErrors())
	assert.Len(t, m.Errors, 2)
	assert.Contains(t, m.Error(), "first")
	assert.Contains(t, m.Error(), "second")
	assert.NotNil(t, m.ErrOrNil())

	var empty MultiError
	assert.Nil(t, empty.ErrOrNil())
}
