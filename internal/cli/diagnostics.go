package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"room-capture/internal/diagnostics"
	"room-capture/internal/domain"
)

func NewDiagnosticsCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	var fix bool

	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Check that the capture engine and directories are usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(flags)
			if err != nil {
				return err
			}

			checker := diagnostics.NewChecker()
			report := checker.Run(settings)
			if fix && report.HasFailures {
				for _, dir := range fixableDirs(report, settings) {
					if err := os.MkdirAll(dir, 0o755); err != nil {
						return errors.Wrapf(err, "create %s", dir)
					}
				}
				report = checker.Run(settings)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				for _, item := range report.Items {
					fmt.Fprintf(out, "[%s] %s: %s\n", strings.ToUpper(string(item.Status)), item.Name, item.Message)
					if item.Status == domain.DiagnosticStatusFail && item.Hint != "" {
						fmt.Fprintf(out, "       %s\n", item.Hint)
					}
				}
			}

			if report.HasFailures {
				return errors.New("diagnostics reported failures")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVar(&fix, "fix", false, "Create missing directories")
	return cmd
}

// fixableDirs maps fixable directory checks to their configured paths.
func fixableDirs(report domain.DiagnosticReport, settings domain.Settings) []string {
	var dirs []string
	for _, item := range report.Items {
		if !item.Fixable {
			continue
		}
		switch item.ID {
		case diagnostics.CheckWorkspaceRoot:
			dirs = append(dirs, settings.WorkspaceRoot)
		case diagnostics.CheckExportDir:
			dirs = append(dirs, settings.ExportDir)
		}
	}
	return dirs
}
