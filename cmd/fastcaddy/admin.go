package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/osa911/fastcaddy/internal/caddy"
	"github.com/osa911/fastcaddy/internal/manifest"
	"github.com/osa911/fastcaddy/internal/service"
)

var (
	setupLocal    bool
	setupTrust    bool
	setupCFToken  string
	manifestFile  string
	manifestForce bool
)

// printBatch prints every entry of br in processing order followed by the
// summary line.
func printBatch(w io.Writer, br service.BatchResult) error {
	for _, d := range br.Domains() {
		if br.Results[d] {
			fmt.Fprintf(w, "✅ %s\n", d)
		} else {
			fmt.Fprintf(w, "❌ %s: %v\n", d, br.Errors[d])
		}
	}
	fmt.Fprintln(w, br.Summary())
	if br.Failed() > 0 {
		return errFailures
	}
	return nil
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Prepare Caddy for route management",
	Long: `Create the TLS automation policy and the HTTP server that routes are
added to. Existing sections are left untouched, so setup can be re-run.

Example:
  fastcaddy setup --local --install-trust
  fastcaddy setup --cf-token $CLOUDFLARE_API_TOKEN`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := caddy.SetupOptions{
			CloudflareToken: setupCFToken,
			Local:           setupLocal,
		}
		if opts.CloudflareToken == "" {
			opts.CloudflareToken = cfg.CloudflareToken
		}
		if cmd.Flags().Changed("install-trust") {
			opts.InstallTrust = &setupTrust
		}

		err := withSpinner("Configuring Caddy...", func() error {
			return client.Setup(cmd.Context(), opts)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Caddy is ready (server %s)\n", client.ServerName())
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get [path]",
	Short: "Print the config at path (default: whole config)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/"
		if len(args) == 1 {
			path = args[0]
		}
		node, err := client.GetConfig(cmd.Context(), path)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(node)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which Caddy config sections are present",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := client.Status(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Admin API: %s\n", cfg.CaddyAdminAPI)
		for _, p := range caddy.StatusPaths {
			mark := "❌"
			if status[p] {
				mark = "✅"
			}
			fmt.Fprintf(w, "  %s %s\n", mark, p)
		}
		return nil
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a YAML route manifest",
	Long: `Apply deletes, proxies, wildcards and subdomains from a manifest file.
Every entry is attempted and reported; failures do not stop the run.

Example:
  fastcaddy apply -f routes.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := manifest.Load(manifestFile)
		if err != nil {
			return err
		}
		if manifestForce {
			m.Force = true
		}

		var rep manifest.Report
		spin("Applying "+manifestFile+"...", func() {
			rep = manifest.Apply(cmd.Context(), routes, m)
		})

		w := cmd.OutOrStdout()
		for _, stage := range rep.Stages {
			fmt.Fprintf(w, "== %s ==\n", stage.Name)
			_ = printBatch(w, stage.Result)
		}
		fmt.Fprintf(w, "Total: %s\n", rep.Summary())
		if rep.Failed() > 0 {
			return errFailures
		}
		return nil
	},
}

func init() {
	setupCmd.Flags().BoolVar(&setupLocal, "local", false, "Use Caddy's internal issuer instead of ACME")
	setupCmd.Flags().BoolVar(&setupTrust, "install-trust", false, "Set install_trust on the local CA")
	setupCmd.Flags().StringVar(&setupCFToken, "cf-token", "", "Cloudflare API token for the DNS challenge (default CADDY_CF_TOKEN)")

	applyCmd.Flags().StringVarP(&manifestFile, "file", "f", "", "Manifest file")
	applyCmd.Flags().BoolVar(&manifestForce, "force", false, "Replace routes that already exist")
	applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(setupCmd, getCmd, statusCmd, applyCmd)
}
