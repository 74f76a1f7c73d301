package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xuperchain/capkernel/kernel/common/xident"
)

type identCmd struct {
	BaseCmd
}

func GetIdentCmd() *identCmd {
	identCmdIns := new(identCmd)

	identCmdIns.cmd = &cobra.Command{
		Use:     "ident <name>...",
		Short:   "Print the procedure identity a name encodes to.",
		Example: "capkernel ident init write",
		Args:    cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range args {
				id := xident.FromName(name)
				note := ""
				if len(name) > xident.Width {
					note = fmt.Sprintf(" (truncated to %q)", id.Name())
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s%s\n", name, id, note)
			}
		},
	}

	return identCmdIns
}
