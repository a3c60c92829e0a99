package cmd

import (
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/zsiec/playcore/pkg/version"
)

func newVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		// version needs no configuration
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			if lo.Must(cmd.Flags().GetBool("short")) {
				cmd.Println(version.GetInfo().Short())
				return
			}
			cmd.Println(version.GetInfo().String())
		},
	}
	cmd.Flags().BoolP("short", "s", false, "print only the version")
	return cmd
}
