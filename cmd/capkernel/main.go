package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/xuperchain/capkernel/cmd/capkernel/cmd"
)

func main() {
	rootCmd, err := NewKernelCommand()
	if err != nil {
		log.Fatalf("create command failed.err:%v", err)
	}

	if err = rootCmd.Execute(); err != nil {
		log.Fatalf("run command failed.err:%v", err)
	}
}

func NewKernelCommand() (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:           "capkernel <command> [arguments]",
		Short:         "Capkernel is a tool for inspecting and running the capability kernel.",
		Long:          "Capkernel is a tool for inspecting and running the capability kernel.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example:       "capkernel run --conf conf/kernel.yaml --manifest example/manifest.yaml",
	}

	// cmd version
	rootCmd.AddCommand(cmd.GetVersionCmd().GetCmd())
	// cmd ident
	rootCmd.AddCommand(cmd.GetIdentCmd().GetCmd())
	// cmd caps
	rootCmd.AddCommand(cmd.GetCapsCmd().GetCmd())
	// cmd run
	rootCmd.AddCommand(cmd.GetRunCmd().GetCmd())
	return rootCmd, nil
}
