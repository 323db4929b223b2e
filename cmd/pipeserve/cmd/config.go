package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pipeserve/pkg/config"
)

func newConfigCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	check := &cobra.Command{
		Use:   "check",
		Short: "Validate the effective configuration and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return fmt.Errorf("load .env: %w", err)
			}
			eff, err := config.Load(configFlags(cmd))
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			quiet, _ := cmd.Flags().GetBool("quiet")
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "configuration ok (source: %s)\n", eff.Source)
			if quiet {
				return nil
			}
			redacted := *eff.Config
			redacted.Security.APIKeys.Backend = mask(redacted.Security.APIKeys.Backend)
			redacted.Security.APIKeys.Admin = mask(redacted.Security.APIKeys.Admin)
			b, err := yaml.Marshal(&redacted)
			if err != nil {
				return err
			}
			_, err = out.Write(b)
			return err
		},
	}
	addServerFlags(check)
	check.Flags().BoolP("quiet", "q", false, "only report whether the configuration is valid")
	c.AddCommand(check)
	return c
}

func mask(keys []string) []string {
	out := make([]string, len(keys))
	for i := range keys {
		out[i] = "[REDACTED]"
	}
	return out
}
