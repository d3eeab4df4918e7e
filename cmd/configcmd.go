package cmd

import (
	"fmt"

	"bookguard/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "[redacted]"

func newConfigCmd(opts *rootOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Long:  "Print the configuration after defaults, the config file, environment variables and the secrets provider have been applied.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			safe := redactConfig(cfg)

			out := cmd.OutOrStdout()
			if opts.outputJSON {
				return outputAsJSON(out, safe)
			}
			data, err := yaml.Marshal(safe)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = out.Write(data)
			return err
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Configuration is valid (environment: %s)\n",
				successColor.Sprint("✓"), cfg.Environment)
			return nil
		},
	})

	return configCmd
}

// redactConfig returns a copy safe to print
func redactConfig(cfg *config.Config) config.Config {
	safe := *cfg
	if safe.Auth.JWTSecret != "" {
		safe.Auth.JWTSecret = redacted
	}
	if safe.Redis.Password != "" {
		safe.Redis.Password = redacted
	}
	safe.Secrets.Vault.Token = ""
	safe.Secrets.AWS.AccessKey = ""
	safe.Secrets.AWS.SecretKey = ""
	return safe
}
