// nightly-results is the small reporting command a build job invokes to
// send structured results back to the orchestrator: a report URL, an
// image, an emoji, or arbitrary key/value fields. It appends typed
// messages to the side-channel file the executor exposed through
// $NIGHTLY_RESULTS_FILE.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pavpanchekha/nightly-runner/internal/config"
	"github.com/pavpanchekha/nightly-runner/internal/resultchan"
)

var rootCmd = &cobra.Command{
	Use:           "nightly-results",
	Short:         "Report results from inside a nightly job",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "url URL",
		Short: "Link to the job's published output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return report("url", args)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "img URL [ALT...]",
		Short: "Image to show with the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return report("img", args)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "emoji NAME",
		Short: "Emoji to show with the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return report("emoji", args)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "set KEY VALUE...",
		Short: "Report an arbitrary key/value field",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return report(args[0], args[1:])
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show the active channel and configuration paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("results_file=%s\n", os.Getenv(resultchan.EnvResultsFile))
			fmt.Printf("config_file=%s\n", os.Getenv(config.EnvConfigFile))
			return nil
		},
	})
}

func report(key string, values []string) error {
	path := os.Getenv(resultchan.EnvResultsFile)
	if path == "" {
		return fmt.Errorf("$%s is not set; not inside a nightly job", resultchan.EnvResultsFile)
	}
	return resultchan.Append(path, resultchan.Message{Key: key, Values: values})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
