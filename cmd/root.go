package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes follow the documented contract: 0 normal, 1 on invalid or
// empty settings and on general errors.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
)

// rootCmd is the base command for the pylon application.
var rootCmd = &cobra.Command{
	Use:   "pylon",
	Short: "Composite plugin host and peer-network node",
	Long: `pylon assembles a composite HTTP application from independently
packaged plugins discovered at startup, and joins the running instance into
a peer network that can transparently forward requests to whichever node
hosts a plugin locally absent.`,
	SilenceUsage: true,
}

// SetVersion injects the build version from the main package.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command and exits the process with the mapped code.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "pylon version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}
