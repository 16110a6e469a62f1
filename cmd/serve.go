package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"pylon/internal/config"
	"pylon/internal/supervisor"
	"pylon/pkg/logging"
)

var (
	serveDebug      bool
	serveConfigPath string
)

// serveCmd starts a pylon node: load settings, build the supervisor, block
// until a termination signal.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a pylon node",
	Long: `Starts a pylon node: discovers and activates plugins, joins the peer
network, and serves the composite application until terminated.

Settings are resolved from the CONFIG_SEED environment variable
(base64:<data>, file:<path>, or url:<address>). --config-path is a shortcut
for CONFIG_SEED=file:<path>.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	if serveDebug || config.EnvBool("DEBUG_LOGGING") {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, os.Stderr)

	if serveConfigPath == "" {
		serveConfigPath = config.Env("PYLON_CONFIG_PATH")
	}
	var settings *config.Settings
	var err error
	if serveConfigPath != "" {
		var raw []byte
		raw, err = config.ResolveSeed("file:" + serveConfigPath)
		if err == nil {
			settings, err = config.Parse(raw)
		}
	} else {
		settings, err = config.Load()
	}
	if err != nil {
		logging.Error("Pylon", err, "cannot load settings")
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return supervisor.New(settings, rootCmd.Version).Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "", "Load settings from this YAML file instead of CONFIG_SEED")
}
