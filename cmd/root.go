// Package cmd provides the bookguard operator commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"bookguard/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

const defaultTimeout = 10 * time.Second

// rootOptions are the persistent flags shared by every subcommand
type rootOptions struct {
	outputJSON bool
	configFile string
	noColor    bool
}

// Commands lists the top level command names handled by the CLI
var Commands = []string{"fingerprint", "csrf", "config", "help", "completion"}

// IsCommand reports whether arg names a CLI command rather than a server flag
func IsCommand(arg string) bool {
	for _, c := range Commands {
		if arg == c {
			return true
		}
	}
	return false
}

// NewRootCmd creates the root command with all subcommands.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "bookguard",
		Short: "Request integrity gateway",
		Long: `bookguard guards state-changing requests with per-session CSRF tokens
and drops duplicate submissions within a per-route window.

Run without arguments to start the gateway.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "Output in JSON format")
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Config file path (default: search ./config.yaml)")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(newFingerprintCmd(opts))
	root.AddCommand(newCSRFCmd(opts))
	root.AddCommand(newConfigCmd(opts))

	return root
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "  %s\n", headerColor.Sprint(title))
	fmt.Fprintf(w, "  %s\n", headerColor.Sprint(strings.Repeat("─", len(title))))
}

func printField(w io.Writer, key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Fprintf(w, "  %-22s %s\n", key+":", value)
}

func formatBool(b bool) string {
	if b {
		return color.New(color.FgGreen).Sprint("yes")
	}
	return color.New(color.FgRed).Sprint("no")
}
