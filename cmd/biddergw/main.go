package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with every subcommand attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createStartCommand(globalFlags),
		createStopCommand(globalFlags),
		createStatusCommand(globalFlags),
		createListCommand(globalFlags),
		createConfigCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:           "biddergw",
		Short:         "Bidder process gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `biddergw launches bidder executables on request, tracks them by name
and forwards configuration traffic to the agent configuration service.

Examples:
  biddergw serve biddergw.toml
  biddergw start bidA --exe=rtb_bidder --param=port=9000 --config-file=bidA.json
  biddergw status bidA
  biddergw stop bidA --signal=15
  biddergw list --api-url=http://remote:8080`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", defaultAPIUrl, "gateway base URL")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", defaultAPITimeout, "gateway request timeout")
	root.PersistentFlags().StringVar(&flags.APICACert, "ca-cert", "", "CA certificate for an HTTPS gateway")
	root.PersistentFlags().BoolVar(&flags.APIInsecure, "insecure", false, "skip TLS verification")
	return root
}
