package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"room-capture/internal/version"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	jsonLogs   bool
	verbose    bool
}

func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "roomcapture",
		Short:         "Run room scans and photogrammetry captures from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Settings file (default: ~/.room-capture/settings.json)")
	cmd.PersistentFlags().BoolVar(&flags.jsonLogs, "json-logs", false, "Write logs as JSON")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logs")

	cmd.AddCommand(NewCaptureCmd(flags))
	cmd.AddCommand(NewDiagnosticsCmd(flags))
	cmd.AddCommand(NewVersionCmd())

	cmd.SetVersionTemplate(fmt.Sprintf("%s (%s/%s)\n", version.Version, runtime.GOOS, runtime.GOARCH))
	cmd.Version = version.Version

	return cmd
}
