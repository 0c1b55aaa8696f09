package registry

import (
	"github.com/spf13/cobra"

	"github.com/packdock/packdock/version"
)

var showVersion bool

func init() {
	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show the version and exit")
}

// VersionCmd prints the build version.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "`version` prints the build version",
	Long:  "`version` prints the build version",
	Run: func(cmd *cobra.Command, args []string) {
		version.PrintVersion()
	},
}

// RootCmd is the main command for the 'packdock' binary.
var RootCmd = &cobra.Command{
	Use:   "packdock",
	Short: "`packdock`",
	Long:  "`packdock`",
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			version.PrintVersion()
			return
		}
		// nolint:errcheck
		cmd.Usage()
	},
}
