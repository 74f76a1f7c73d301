package cmd

import (
	"github.com/spf13/cobra"
)

// BaseCmd holds the cobra command every sub command builds.
type BaseCmd struct {
	cmd *cobra.Command
}

func (t *BaseCmd) GetCmd() *cobra.Command {
	return t.cmd
}
