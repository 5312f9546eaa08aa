package clean

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp-forge/pushapi/internal/cmd/base"
)

func TestClean(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, name := range []string{".pushapi.buffer.1", ".pushapi.buffer.2", "keep.json"} {
		require.NoError(t, afero.WriteFile(fs, "/w/"+name, []byte("{}"), 0644))
	}

	ui := cli.NewMockUi()
	b := base.NewCommand(hclog.NewNullLogger(), ui)
	b.Fs = fs
	c := &Command{Command: b}

	require.Equal(t, 0, c.Run([]string{"-dir", "/w"}))
	assert.Contains(t, ui.OutputWriter.String(), "Removed 2 artifact(s).")

	for name, want := range map[string]bool{".pushapi.buffer.1": false, ".pushapi.buffer.2": false, "keep.json": true} {
		ok, err := afero.Exists(fs, "/w/"+name)
		require.NoError(t, err)
		assert.Equal(t, want, ok, name)
	}

	ui = cli.NewMockUi()
	c.UI = ui
	require.Equal(t, 0, c.Run([]string{"-dir", "/w"}))
	assert.Contains(t, ui.OutputWriter.String(), "No artifacts to remove.")
}
