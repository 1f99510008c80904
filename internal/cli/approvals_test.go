package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApprovalsCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		cmd := GetRootCmd()

		found := false
		for _, c := range cmd.Commands() {
			if c.Name() == "approvals" {
				found = true
				assert.Len(t, c.Commands(), 3)
				break
			}
		}
		assert.True(t, found, "approvals command should exist")
	})

	t.Run("help text", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"approvals", "--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		helpText := output.String()
		assert.Contains(t, helpText, "approval")
		assert.Contains(t, helpText, "list")
		assert.Contains(t, helpText, "approve")
		assert.Contains(t, helpText, "deny")
	})

	t.Run("approve requires thread argument", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"approvals", "approve"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)
		cmd.SetErr(output)

		err := cmd.Execute()
		assert.Error(t, err)
	})
}
