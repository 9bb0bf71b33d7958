package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"devgate/api/router/handlers"
	"devgate/database"
	"devgate/logger"
	"devgate/models"

	"github.com/spf13/cobra"
)

var (
	trafficListRule   string
	trafficListMethod string
	trafficListStatus int
	trafficListSearch string
	trafficListLimit  int
	trafficListPage   int
	trafficListOldest bool

	trafficShowField string
	trafficClearYes  bool
)

var trafficCmd = &cobra.Command{
	Use:         "traffic",
	Short:       "View and manage recorded proxy traffic",
	Long:        `Lists, shows and clears the request/response exchanges recorded by the dev server and the forward proxy.`,
	Aliases:     []string{"tf"},
	Annotations: map[string]string{dbAnnotation: dbRequired},
}

func printHeaders(out io.Writer, headersJSON string) {
	if headersJSON == "" {
		return
	}
	var headers map[string][]string
	if err := json.Unmarshal([]byte(headersJSON), &headers); err != nil {
		logger.Error("Error unmarshalling headers JSON: %v. Raw: %s", err, headersJSON)
		fmt.Fprintln(out, headersJSON)
		return
	}
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, value := range headers[name] {
			fmt.Fprintf(out, "%s: %s\n", name, value)
		}
	}
}

func printBody(out io.Writer, body []byte, contentType string) {
	if len(body) == 0 {
		return
	}
	if strings.Contains(strings.ToLower(contentType), "json") {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, body, "", "  "); err == nil {
			fmt.Fprintln(out, pretty.String())
			return
		}
		logger.Debug("Failed to pretty-print JSON body, printing as string.")
	}
	fmt.Fprintln(out, strings.ToValidUTF8(string(body), ""))
}

var trafficListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List recorded exchanges with filters and pagination",
	Aliases: []string{"ls"},
	Example: `  # The 50 most recent exchanges
  devgate traffic list

  # Failed calls to the /api rule
  devgate traffic list --rule /api --status 502

  # Anything mentioning "quota" in the URL, error or response body
  devgate traffic list --search quota --page 2 --limit 20`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filters := models.TrafficFilters{
			Page:       trafficListPage,
			Limit:      trafficListLimit,
			RulePrefix: trafficListRule,
			Method:     trafficListMethod,
			Status:     trafficListStatus,
			Search:     trafficListSearch,
		}
		if trafficListOldest {
			filters.SortOrder = "asc"
		}
		filters.Normalize()

		records, total, err := database.ListTraffic(filters)
		if err != nil {
			return fmt.Errorf("listing traffic: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(records) == 0 {
			fmt.Fprintln(out, "No recorded traffic matches the given filters.")
			return nil
		}
		printTrafficTable(out, records)
		totalPages := int((total + int64(filters.Limit) - 1) / int64(filters.Limit))
		fmt.Fprintf(out, "\nPage %d of %d (%d total)\n", filters.Page, totalPages, total)
		return nil
	},
}

func printTrafficTable(out io.Writer, records []models.TrafficSummary) {
	writer := new(tabwriter.Writer)
	writer.Init(out, 0, 8, 1, '\t', 0)
	fmt.Fprintln(writer, "ID\tTIMESTAMP\tMODE\tRULE\tMETH\tURL\tSTATUS\tSIZE\tDURATION")
	fmt.Fprintln(writer, "--\t---------\t----\t----\t----\t---\t------\t----\t--------")
	for _, t := range records {
		displayURL := t.OriginalURL
		if len(displayURL) > 80 {
			displayURL = displayURL[:77] + "..."
		}
		status := fmt.Sprintf("%d", t.StatusCode)
		if t.Error != "" {
			status += "!"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%dms\n",
			t.ID, t.Timestamp.Local().Format("2006-01-02 15:04:05"), t.Mode, t.RulePrefix,
			t.Method, displayURL, status, t.BodySize, t.DurationMs)
	}
	writer.Flush()
}

var trafficShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the full request and response of one exchange",
	Long: `Shows one recorded exchange with headers and bodies. With --field only the value at
the given JSON path of the response body is printed (gjson syntax, e.g. data.items.0.id).`,
	Aliases: []string{"get"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entry, err := database.GetTraffic(args[0])
		if errors.Is(err, database.ErrTrafficNotFound) {
			return fmt.Errorf("no traffic entry with id %s", args[0])
		}
		if err != nil {
			return fmt.Errorf("loading traffic entry %s: %w", args[0], err)
		}
		out := cmd.OutOrStdout()
		if trafficShowField != "" {
			value, err := handlers.ExtractField(entry.ResponseBody, trafficShowField)
			if err != nil {
				return err
			}
			printBody(out, value, "application/json")
			return nil
		}
		printTrafficEntry(out, entry)
		return nil
	},
}

func printTrafficEntry(out io.Writer, t *models.TrafficEntry) {
	fmt.Fprintf(out, "ID:        %s\n", t.ID)
	fmt.Fprintf(out, "Time:      %s\n", t.Timestamp.Local().Format("2006-01-02 15:04:05.000"))
	fmt.Fprintf(out, "Mode:      %s\n", t.Mode)
	fmt.Fprintf(out, "Rule:      %s\n", t.RulePrefix)
	fmt.Fprintf(out, "Forwarded: %s\n", t.ForwardURL)
	fmt.Fprintf(out, "Duration:  %dms\n", t.DurationMs)
	if t.ClientIP.Valid {
		fmt.Fprintf(out, "Client:    %s\n", t.ClientIP.String)
	}
	if t.Error.Valid {
		fmt.Fprintf(out, "Error:     %s\n", t.Error.String)
	}

	fmt.Fprintf(out, "\n--- Request ---\n%s %s\n", t.Method, t.OriginalURL)
	printHeaders(out, t.RequestHeaders.String)
	if len(t.RequestBody) > 0 {
		fmt.Fprintln(out)
		printBody(out, t.RequestBody, "")
	}

	fmt.Fprintf(out, "\n--- Response ---\n%d\n", t.StatusCode)
	printHeaders(out, t.ResponseHeaders.String)
	if len(t.ResponseBody) > 0 {
		fmt.Fprintln(out)
		printBody(out, t.ResponseBody, t.ContentType.String)
	}
	if t.Truncated {
		fmt.Fprintf(out, "(body truncated, %d bytes total)\n", t.BodySize)
	}
}

var trafficClearCmd = &cobra.Command{
	Use:     "clear",
	Short:   "Delete all recorded traffic",
	Aliases: []string{"purge"},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if !trafficClearYes {
			fmt.Fprint(out, "Delete ALL recorded traffic? This cannot be undone. [y/N]: ")
			reader := bufio.NewReader(cmd.InOrStdin())
			answer, _ := reader.ReadString('\n')
			answer = strings.ToLower(strings.TrimSpace(answer))
			if answer != "y" && answer != "yes" {
				fmt.Fprintln(out, "Aborted.")
				return nil
			}
		}
		n, err := database.ClearTraffic()
		if err != nil {
			return fmt.Errorf("clearing traffic: %w", err)
		}
		fmt.Fprintf(out, "Deleted %d traffic entries.\n", n)
		return nil
	},
}

func init() {
	trafficListCmd.Flags().StringVarP(&trafficListRule, "rule", "r", "", "Only exchanges handled by this rule prefix")
	trafficListCmd.Flags().StringVarP(&trafficListMethod, "method", "m", "", "Only this HTTP method")
	trafficListCmd.Flags().IntVarP(&trafficListStatus, "status", "s", 0, "Only this response status code")
	trafficListCmd.Flags().StringVarP(&trafficListSearch, "search", "q", "", "Substring search over URLs, errors and bodies")
	trafficListCmd.Flags().IntVarP(&trafficListLimit, "limit", "l", 50, "Entries per page (max 500)")
	trafficListCmd.Flags().IntVar(&trafficListPage, "page", 1, "Page number")
	trafficListCmd.Flags().BoolVar(&trafficListOldest, "oldest-first", false, "Sort oldest first")

	trafficShowCmd.Flags().StringVarP(&trafficShowField, "field", "f", "", "Print only this JSON path of the response body")

	trafficClearCmd.Flags().BoolVarP(&trafficClearYes, "yes", "y", false, "Do not ask for confirmation")

	trafficCmd.AddCommand(trafficListCmd, trafficShowCmd, trafficClearCmd)
	rootCmd.AddCommand(trafficCmd)
}
