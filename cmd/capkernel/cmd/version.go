package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	buildVersion = ""
	commitHash   = ""
	buildDate    = ""
)

type versionCmd struct {
	BaseCmd
}

func GetVersionCmd() *versionCmd {
	versionCmdIns := new(versionCmd)

	versionCmdIns.cmd = &cobra.Command{
		Use:     "version",
		Short:   "View process version information.",
		Example: "capkernel version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version())
		},
	}

	return versionCmdIns
}

func Version() string {
	return fmt.Sprintf("%s-%s %s", buildVersion, commitHash, buildDate)
}
