package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// executeCommand runs the root command with args and stdin, returning stdout
// and stderr.
func executeCommand(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	cmd := NewRootCommand()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// response mirrors CLIResponse with a typed payload.
type response[T any] struct {
	Status string    `json:"status"`
	Data   T         `json:"data"`
	Error  *CLIError `json:"error"`
}

func decodeResponse[T any](t *testing.T, out string) response[T] {
	t.Helper()
	var resp response[T]
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "lineage.db")
}

// appendJSON appends payload to entity in db and returns the decoded result.
func appendJSON(t *testing.T, db, entity, payload string) AppendResult {
	t.Helper()
	out, _, err := executeCommand(t, "", "--db", db, "--format", "json", "append", entity, payload)
	require.NoError(t, err)
	resp := decodeResponse[AppendResult](t, out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}
