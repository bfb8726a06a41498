package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/osa911/fastcaddy/internal/caddy"
	"github.com/osa911/fastcaddy/internal/service"
)

var (
	forceFlag   bool
	subHostFlag string
)

func modeFromFlag() service.AddMode {
	if forceFlag {
		return service.Replace
	}
	return service.FailIfExists
}

// report prints one result line and turns unsuccessful outcomes into
// errFailures.
func report(w io.Writer, res service.Result, err error) error {
	if err != nil {
		return err
	}
	if res.OK() {
		fmt.Fprintf(w, "✅ %s: %s\n", res.ID, res.Outcome)
		return nil
	}
	fmt.Fprintf(w, "❌ %s: %s: %v\n", res.ID, res.Outcome, res.Err)
	return errFailures
}

var addProxyCmd = &cobra.Command{
	Use:   "add-proxy <domain> <target>",
	Short: "Add a reverse proxy route",
	Long: `Add a reverse proxy route from domain to target (host:port).
An existing route with the same domain is left alone unless --force is given,
in which case it is deleted, verified gone, and added again.

Example:
  fastcaddy add-proxy api.example.com localhost:8080
  fastcaddy add-proxy api.example.com localhost:9090 --force`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var res service.Result
		err := withSpinner("Adding "+args[0]+"...", func() error {
			var err error
			res, err = routes.SafeAdd(cmd.Context(), args[0], args[1], modeFromFlag())
			return err
		})
		return report(cmd.OutOrStdout(), res, err)
	},
}

var updateProxyCmd = &cobra.Command{
	Use:   "update-proxy <domain> <target>",
	Short: "Replace the target of a reverse proxy route",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var res service.Result
		err := withSpinner("Updating "+args[0]+"...", func() error {
			var err error
			res, err = routes.Update(cmd.Context(), args[0], args[1])
			return err
		})
		return report(cmd.OutOrStdout(), res, err)
	},
}

var delProxyCmd = &cobra.Command{
	Use:   "del-proxy <id>...",
	Short: "Delete routes by id",
	Long: `Delete one or more routes by id. Deleting a route that does not exist
succeeds. Every delete is verified before it is reported as done.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var br service.BatchResult
		spin("Deleting routes...", func() {
			br = routes.BatchDelete(cmd.Context(), args)
		})
		return printBatch(cmd.OutOrStdout(), br)
	},
}

var addWildcardCmd = &cobra.Command{
	Use:   "add-wildcard <base-domain>",
	Short: "Add a *.base wildcard route that subdomain routes nest under",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := routes.SafeAddWildcard(cmd.Context(), args[0], modeFromFlag())
		return report(cmd.OutOrStdout(), res, err)
	},
}

var addSubProxyCmd = &cobra.Command{
	Use:   "add-sub-proxy <base-domain> <subdomain> <port>[,<port>...]",
	Short: "Add a subdomain route under a wildcard",
	Long: `Add sub.base proxying to host:port for every port given. The route is
nested in the wildcard-<base> route when it exists, otherwise it is added to
the server route list.

Example:
  fastcaddy add-wildcard dev.example.com
  fastcaddy add-sub-proxy dev.example.com app 8090,8091 --host 10.0.0.5`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ports := strings.Split(args[2], ",")
		res, err := routes.SafeAddSubdomain(cmd.Context(), args[0], args[1], ports, subHostFlag, modeFromFlag())
		return report(cmd.OutOrStdout(), res, err)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <id>...",
	Short: "Report which route ids exist",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		br := routes.BatchCheck(cmd.Context(), args)
		w := cmd.OutOrStdout()
		for _, d := range br.Domains() {
			switch {
			case br.Results[d]:
				fmt.Fprintf(w, "✅ %s: present\n", d)
			case caddy.IsUnavailable(br.Errors[d]):
				fmt.Fprintf(w, "❌ %s: %v\n", d, br.Errors[d])
			default:
				fmt.Fprintf(w, "➖ %s: absent\n", d)
			}
		}
		fmt.Fprintf(w, "%d of %d present\n", len(br.Active()), len(br.Results))
		for _, err := range br.Errors {
			if caddy.IsUnavailable(err) {
				return errFailures
			}
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{addProxyCmd, addWildcardCmd, addSubProxyCmd} {
		c.Flags().BoolVarP(&forceFlag, "force", "f", false, "Replace the route if it already exists")
	}
	addSubProxyCmd.Flags().StringVar(&subHostFlag, "host", "localhost", "Upstream host for the given ports")

	rootCmd.AddCommand(addProxyCmd, updateProxyCmd, delProxyCmd, addWildcardCmd, addSubProxyCmd, checkCmd)
}
