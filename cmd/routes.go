package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"devgate/config"
	"devgate/core"
	"devgate/models"

	"github.com/spf13/cobra"
)

var routesCmd = &cobra.Command{
	Use:     "routes",
	Short:   "Inspect the configured proxy rules",
	Aliases: []string{"rt"},
}

var routesListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List proxy rules sorted by prefix",
	Aliases: []string{"ls"},
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := loadRuleTable()
		if err != nil {
			return err
		}
		printRoutes(cmd.OutOrStdout(), table)
		return nil
	},
}

var routesTestCmd = &cobra.Command{
	Use:   "test <path>",
	Short: "Show how a request path would be forwarded",
	Example: `  devgate routes test '/api/exec?id=5'
  devgate routes test /apiextra`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := loadRuleTable()
		if err != nil {
			return err
		}
		printResolve(cmd.OutOrStdout(), table.Resolve(normalizePath(args[0])))
		return nil
	},
}

func loadRuleTable() (*core.RuleTable, error) {
	rules, err := config.RuleMap(config.Current().Proxy.Rules)
	if err != nil {
		return nil, err
	}
	return core.NewRuleTable(rules)
}

func normalizePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

func printRoutes(out io.Writer, table *core.RuleTable) {
	routes := table.Routes()
	if len(routes) == 0 {
		fmt.Fprintln(out, "No proxy rules configured.")
		return
	}
	writer := new(tabwriter.Writer)
	writer.Init(out, 0, 8, 1, '\t', 0)
	fmt.Fprintln(writer, "PREFIX\tTARGET\tCHANGE_ORIGIN\tREWRITE\tWS\tTIMEOUT")
	fmt.Fprintln(writer, "------\t------\t-------------\t-------\t--\t-------")
	for _, route := range routes {
		r := route.Rule
		rewrite := "-"
		if r.Rewrite != nil {
			rewrite = fmt.Sprintf("%s -> %q", r.Rewrite.Pattern, r.Rewrite.Replace)
		} else if r.StripPrefix {
			rewrite = "strip prefix"
		}
		timeout := "-"
		if r.Timeout > 0 {
			timeout = r.Timeout.String()
		}
		fmt.Fprintf(writer, "%s\t%s\t%t\t%s\t%t\t%s\n", r.Prefix, r.Target, r.ChangeOrigin, rewrite, r.WS, timeout)
	}
	writer.Flush()
}

func printResolve(out io.Writer, res models.RouteTestResult) {
	if !res.Matched {
		fmt.Fprintf(out, "%s: no rule matches, served as a static file\n", res.Path)
		return
	}
	fmt.Fprintf(out, "Path:      %s\n", res.Path)
	fmt.Fprintf(out, "Rule:      %s\n", res.Prefix)
	fmt.Fprintf(out, "Rewritten: %s\n", res.Rewritten)
	fmt.Fprintf(out, "Forward:   %s\n", res.ForwardURL)
}

func init() {
	routesCmd.AddCommand(routesListCmd, routesTestCmd)
	rootCmd.AddCommand(routesCmd)
}
