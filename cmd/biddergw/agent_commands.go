package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chinnucsk/bidder-gateway/pkg/client"
)

func newClient(flags *GlobalFlags) (*client.Client, error) {
	cfg := client.Config{
		BaseURL:  strings.TrimRight(flags.APIUrl, "/"),
		Timeout:  flags.APITimeout,
		Insecure: flags.APIInsecure,
	}
	if flags.APICACert != "" {
		cfg.TLS = &client.TLSClientConfig{CACert: flags.APICACert}
	}
	return client.New(cfg)
}

func createStartCommand(globalFlags *GlobalFlags) *cobra.Command {
	startFlags := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start NAME",
		Short: "Launch a bidder",
		Long: `Launch an executable from the gateway's exec dir under NAME. Each
--param key=value becomes "-key value" on the bidder's command line; the
JSON config is written to <config_dir>/NAME.conf.json and passed with -f.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, globalFlags, startFlags, args[0])
		},
	}
	cmd.Flags().StringVar(&startFlags.Executable, "exe", "", "executable relative to the exec dir")
	cmd.Flags().StringArrayVar(&startFlags.Params, "param", nil, "bidder argument as key=value (repeatable)")
	cmd.Flags().StringVar(&startFlags.ConfigFile, "config-file", "", "JSON config file for the bidder")
	cmd.Flags().StringVar(&startFlags.ConfigJSON, "config-json", "", "inline JSON config for the bidder")
	_ = cmd.MarkFlagRequired("exe")
	return cmd
}

func runStart(cmd *cobra.Command, g *GlobalFlags, f *StartFlags, name string) error {
	params, err := parseParams(f.Params)
	if err != nil {
		return err
	}
	conf, err := loadBidderConfig(f)
	if err != nil {
		return err
	}
	c, err := newClient(g)
	if err != nil {
		return err
	}
	res, err := c.Start(cmd.Context(), client.StartRequest{
		Name:       name,
		Executable: f.Executable,
		Params:     params,
		Config:     conf,
	})
	if err != nil {
		return err
	}
	return report(cmd.OutOrStdout(), res)
}

func createStopCommand(globalFlags *GlobalFlags) *cobra.Command {
	stopFlags := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop NAME",
		Short: "Signal a bidder and forget it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(globalFlags)
			if err != nil {
				return err
			}
			res, err := c.Stop(cmd.Context(), args[0], stopFlags.Signal)
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVar(&stopFlags.Signal, "signal", 0, "signal number (default SIGKILL)")
	return cmd
}

func createStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status NAME",
		Short: "Show whether a bidder is up, down or aborted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(globalFlags)
			if err != nil {
				return err
			}
			res, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			// a down or aborted bidder is an answer, not a failure
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func createListCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered bidders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(globalFlags)
			if err != nil {
				return err
			}
			names, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range names {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func createConfigCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config NAME",
		Short: "Print where the config service serves a bidder's configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(globalFlags)
			if err != nil {
				return err
			}
			loc, err := c.ConfigLocation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), loc)
			return err
		},
	}
}

func parseParams(kvs []string) (map[string]string, error) {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", kv)
		}
		if k == "executable" || k == "bidder_name" {
			return nil, fmt.Errorf("--param %q uses a reserved key", kv)
		}
		out[k] = v
	}
	return out, nil
}

func loadBidderConfig(f *StartFlags) ([]byte, error) {
	if f.ConfigFile != "" && f.ConfigJSON != "" {
		return nil, errors.New("--config-file and --config-json are mutually exclusive")
	}
	var b []byte
	switch {
	case f.ConfigFile != "":
		data, err := os.ReadFile(f.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("read bidder config: %w", err)
		}
		b = data
	case f.ConfigJSON != "":
		b = []byte(f.ConfigJSON)
	default:
		return nil, nil
	}
	if !json.Valid(b) {
		return nil, errors.New("bidder config is not valid JSON")
	}
	return b, nil
}

// report prints res and turns a non-zero result code into an error so the
// exit status reflects it.
func report(w io.Writer, res client.Result) error {
	if err := printJSON(w, res); err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("result %d: %s", res.ResultCode, res.ResultDescription)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
