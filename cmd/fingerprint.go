package cmd

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"bookguard/dedup"
	"bookguard/fingerprint"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// maxBodyFileSize bounds --body-file reads
const maxBodyFileSize = 10 << 20

// FingerprintResult is what the fingerprint command reports
type FingerprintResult struct {
	Tuple  fingerprint.Tuple `json:"tuple"`
	Digest string            `json:"digest"`
	Route  string            `json:"route"`
	Window string            `json:"window"`
}

func newFingerprintCmd(opts *rootOptions) *cobra.Command {
	var (
		method      string
		path        string
		actor       string
		clientAddr  string
		query       string
		body        string
		bodyFile    string
		contentType string
	)

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Compute the deduplication fingerprint of a request",
		Long: `Compute the fingerprint the gateway would derive for a request, together
with the route key and the deduplication window that applies to it.

Two requests with the same digest inside the window are duplicates.`,
		Example: `  bookguard fingerprint --method POST --path /bookings --actor user-1 --body '{"hotelId":"h1"}'
  bookguard fingerprint --method POST --path /sessions --client-addr 10.0.0.5 --body-file req.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" && clientAddr == "" {
				return fmt.Errorf("either --actor or --client-addr is required")
			}

			data := []byte(body)
			if bodyFile != "" {
				info, err := os.Stat(bodyFile)
				if err != nil {
					return fmt.Errorf("failed to read body file: %w", err)
				}
				if info.Size() > maxBodyFileSize {
					return fmt.Errorf("body file too large: %d bytes (max %d)", info.Size(), maxBodyFileSize)
				}
				if data, err = os.ReadFile(bodyFile); err != nil {
					return fmt.Errorf("failed to read body file: %w", err)
				}
			}

			method = strings.ToUpper(method)
			tuple, err := fingerprint.Build(method, path, fingerprint.Actor(actor, clientAddr), query, data, contentType)
			if err != nil {
				return fmt.Errorf("failed to fingerprint request: %w", err)
			}
			digest, err := tuple.Digest()
			if err != nil {
				return err
			}

			window, err := routeWindow(opts, method, path)
			if err != nil {
				return err
			}

			result := FingerprintResult{
				Tuple:  tuple,
				Digest: digest,
				Route:  fingerprint.RouteKey(method, tuple.Path),
				Window: window.String(),
			}

			out := cmd.OutOrStdout()
			if opts.outputJSON {
				return outputAsJSON(out, result)
			}

			fmt.Fprintln(out)
			printSection(out, "Request Fingerprint")
			printField(out, "Route", result.Route)
			printField(out, "Actor", tuple.Actor)
			printField(out, "Body digest", tuple.Body)
			printField(out, "Query digest", tuple.Query)
			printField(out, "Window", result.Window)
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  %s\n", successColor.Sprint(digest))
			return nil
		},
	}

	cmd.Flags().StringVarP(&method, "method", "X", http.MethodPost, "HTTP method")
	cmd.Flags().StringVarP(&path, "path", "p", "", "Request path")
	cmd.Flags().StringVar(&actor, "actor", "", "Authenticated actor id")
	cmd.Flags().StringVar(&clientAddr, "client-addr", "", "Client address, used when there is no actor")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Raw query string")
	cmd.Flags().StringVarP(&body, "body", "d", "", "Request body")
	cmd.Flags().StringVar(&bodyFile, "body-file", "", "Read the request body from a file")
	cmd.Flags().StringVar(&contentType, "content-type", "application/json", "Request content type")
	_ = cmd.MarkFlagRequired("path")
	cmd.MarkFlagsMutuallyExclusive("body", "body-file")

	return cmd
}

// routeWindow resolves the window from the configured route classes, or
// from the built-in ones when no config file was given.
func routeWindow(opts *rootOptions, method, path string) (time.Duration, error) {
	cfg := dedup.DefaultConfig()
	if opts.configFile != "" {
		loaded, err := opts.loadConfig()
		if err != nil {
			return 0, err
		}
		cfg = loaded.Dedup
	}

	cache, err := dedup.New(cfg, zap.NewNop().Sugar())
	if err != nil {
		return 0, fmt.Errorf("invalid dedup config: %w", err)
	}
	req, err := http.NewRequest(method, path, nil)
	if err != nil {
		return 0, fmt.Errorf("invalid request path: %w", err)
	}
	return cache.WindowFor(req), nil
}
