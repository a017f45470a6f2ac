package main

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brfsskit/sqldraft/internal/api"
	"github.com/brfsskit/sqldraft/internal/config"
	"github.com/brfsskit/sqldraft/internal/dataset"
	"github.com/brfsskit/sqldraft/internal/dictionary"
	"github.com/brfsskit/sqldraft/internal/refdocs"
	"github.com/brfsskit/sqldraft/internal/storage"
	"github.com/brfsskit/sqldraft/internal/tables"
)

// --- tables ---

var loadCmd = &cobra.Command{
	Use:   "load <year> <csv-file>",
	Short: "Load a survey CSV as the brfss_{year} table",
	Long: `Load a survey CSV as the brfss_{year} table, replacing any existing table.

Examples:
  sqldraft load 2019 ./LLCP2019.csv`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		year, err := dataset.ParseYear(args[0])
		if err != nil {
			return err
		}
		f, err := os.Open(args[1])
		if err != nil {
			return fmt.Errorf("opening csv: %w", err)
		}
		defer f.Close()

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Loading %s into %s", filepath.Base(args[1]), year.TableName())
		resp, err := client.upload(cmd.Context(), "/v1/datasets/"+year.String(), "text/csv", f)
		if err != nil {
			return err
		}
		var st tables.LoadStats
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}
		printSuccess("Loaded %s: %d rows, %d columns", st.Table, st.Rows, st.Columns)
		return nil
	},
}

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List or drop survey tables",
}

var datasetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List survey years and their load state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/datasets")
		if err != nil {
			return err
		}
		var ds []api.DatasetStatus
		if err := decodeJSON(resp, &ds); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, d := range ds {
			state := colorize(styleDimmed, "not loaded")
			if d.Loaded {
				state = colorize(styleSuccess, "loaded")
			}
			ref := ""
			if d.HasReference {
				ref = "  codebook"
			}
			fmt.Fprintf(out, "%s  %-10s  %s%s\n", d.Year, d.Table, state, ref)
		}
		return nil
	},
}

var datasetsDropCmd = &cobra.Command{
	Use:   "drop <year>",
	Short: "Drop a loaded survey table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		year, err := dataset.ParseYear(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/v1/datasets/"+year.String())
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Dropped %s", year.TableName())
		return nil
	},
}

func init() {
	datasetsCmd.AddCommand(datasetsListCmd)
	datasetsCmd.AddCommand(datasetsDropCmd)
}

// --- draft ---

var draftCmd = &cobra.Command{
	Use:   "draft <prompt...>",
	Short: "Draft a SQL query for a natural-language question",
	Long: `Draft a SQL query for a natural-language question over the loaded tables.

Examples:
  sqldraft draft "Show respondent counts by state for 2023"
  sqldraft draft --years 2019,2020 --run "Average BMI by sex"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.TrimSpace(strings.Join(args, " "))
		yearsStr, _ := cmd.Flags().GetString("years")
		apiKey, _ := cmd.Flags().GetString("api-key")
		run, _ := cmd.Flags().GetBool("run")
		csvPath, _ := cmd.Flags().GetString("csv")

		years, err := dataset.ParseYears(yearsStr)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{"prompt": prompt}
		if len(years) > 0 {
			body["years"] = years
		}
		if apiKey != "" {
			body["api_key"] = apiKey
		}

		printStep("Drafting...")
		resp, err := client.post(cmd.Context(), "/v1/drafts", body)
		if err != nil {
			return err
		}
		var out api.DraftOutput
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintln(w, colorize(styleBold, "SQL"))
		fmt.Fprintln(w, out.Query)
		if out.Explanation != "" {
			fmt.Fprintln(w)
			fmt.Fprintln(w, colorize(styleBold, "Explanation"))
			fmt.Fprintln(w, out.Explanation)
		}
		attached := "none"
		if len(out.Meta.AttachedYears) > 0 {
			attached = dataset.Join(out.Meta.AttachedYears, ", ")
		}
		fmt.Fprintln(w, colorize(styleDimmed, fmt.Sprintf("model %s, %d ms, codebooks: %s, draft %s",
			out.Meta.Model, out.Meta.DurationMs, attached, out.ID)))

		if !run {
			return nil
		}
		fmt.Fprintln(w)
		return runQuery(cmd, client, out.Query, csvPath)
	},
}

func init() {
	draftCmd.Flags().String("years", "", "comma-separated survey years (default: all loaded tables)")
	draftCmd.Flags().String("api-key", "", "Gemini API key for this request")
	draftCmd.Flags().Bool("run", false, "run the drafted query")
	draftCmd.Flags().String("csv", "", "with --run, write the result to this CSV file")
}

// --- query ---

var runCmd = &cobra.Command{
	Use:   "run <sql...>",
	Short: "Run SQL against the loaded tables",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		csvPath, _ := cmd.Flags().GetString("csv")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runQuery(cmd, client, strings.Join(args, " "), csvPath)
	},
}

func init() {
	runCmd.Flags().String("csv", "", "write the result to this CSV file instead of printing it")
}

func runQuery(cmd *cobra.Command, client *apiClient, stmt, csvPath string) error {
	resp, err := client.post(cmd.Context(), "/v1/query", map[string]string{"sql": stmt})
	if err != nil {
		return err
	}
	return showResult(cmd, resp, csvPath)
}

// showResult prints a query response as a table, or writes it to csvPath.
func showResult(cmd *cobra.Command, resp *http.Response, csvPath string) error {
	var res tables.Result
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}

	if csvPath != "" {
		f, err := os.Create(csvPath)
		if err != nil {
			return fmt.Errorf("creating csv: %w", err)
		}
		if err := tables.WriteCSV(f, res); err != nil {
			f.Close()
			return fmt.Errorf("writing csv: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		printSuccess("Wrote %d rows to %s", len(res.Rows), csvPath)
		return nil
	}

	rows := make([][]string, len(res.Rows))
	for i, row := range res.Rows {
		rows[i] = make([]string, len(row))
		for j, v := range row {
			rows[i][j] = tables.FormatCell(v)
		}
	}
	renderResult(cmd.OutOrStdout(), res.Columns, rows, res.Truncated)
	return nil
}

// --- reference documents ---

var presenceCmd = &cobra.Command{
	Use:   "presence",
	Short: "Check which yearly codebooks exist in the Gemini file store",
	RunE: func(cmd *cobra.Command, args []string) error {
		yearsStr, _ := cmd.Flags().GetString("years")
		apiKey, _ := cmd.Flags().GetString("api-key")
		years, err := dataset.ParseYears(yearsStr)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		body := map[string]any{}
		if len(years) > 0 {
			body["years"] = years
		}
		if apiKey != "" {
			body["api_key"] = apiKey
		}
		resp, err := client.post(cmd.Context(), "/v1/info-files/presence", body)
		if err != nil {
			return err
		}
		var report refdocs.PresenceReport
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		if len(years) == 0 {
			years = dataset.ReferenceYears()
		}
		w := cmd.OutOrStdout()
		for _, y := range dataset.SortYears(years) {
			state := colorize(styleWarning, "missing")
			if report.Statuses[y] {
				state = colorize(styleSuccess, "present")
			}
			fmt.Fprintf(w, "%s  %-12s  %s\n", y, y.ReferenceName(), state)
		}
		return nil
	},
}

func init() {
	presenceCmd.Flags().String("years", "", "comma-separated survey years (default: every year with a codebook)")
	presenceCmd.Flags().String("api-key", "", "Gemini API key for this request")
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Manage the yearly codebooks published to Gemini",
}

var infoUploadCmd = &cobra.Command{
	Use:   "upload <year>",
	Short: "Store a codebook for a year and queue its upload",
	Long: `Store a codebook for a year and queue its upload to the Gemini file store.

Examples:
  sqldraft info upload 2019 --file ./codebook19_llcp.pdf
  sqldraft info upload 2021 --url https://www.cdc.gov/brfss/annual_data/2021/pdf/codebook21_llcp-v2-508.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		year, err := dataset.ParseYear(args[0])
		if err != nil {
			return err
		}
		file, _ := cmd.Flags().GetString("file")
		rawURL, _ := cmd.Flags().GetString("url")
		mimeType, _ := cmd.Flags().GetString("mime-type")
		if (file == "") == (rawURL == "") {
			return fmt.Errorf("exactly one of --file or --url is required")
		}

		body := map[string]any{"year": int(year)}
		if mimeType != "" {
			body["mime_type"] = mimeType
		}
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			body["content"] = base64.StdEncoding.EncodeToString(data)
			body["filename"] = filepath.Base(file)
		} else {
			if _, err := url.ParseRequestURI(rawURL); err != nil {
				return fmt.Errorf("invalid --url: %w", err)
			}
			body["url"] = rawURL
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/info-files", body)
		if err != nil {
			return err
		}
		var out api.PublishOutput
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Queued %s codebook upload (%s, job %s)", year, out.Doc.MIMEType, out.JobID)
		return nil
	},
}

var infoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored codebooks and their publish state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/info-files")
		if err != nil {
			return err
		}
		var docs []storage.InfoDoc
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(docs) == 0 {
			fmt.Fprintln(w, "No codebooks stored.")
			return nil
		}
		for _, d := range docs {
			status := d.Status
			switch d.Status {
			case storage.InfoPublished:
				status = colorize(styleSuccess, status)
			case storage.InfoFailed:
				status = colorize(styleError, status+": "+d.Error)
			default:
				status = colorize(styleWarning, status)
			}
			fmt.Fprintf(w, "%d  %-30s  %s\n", d.Year, d.Filename, status)
		}
		return nil
	},
}

var infoDeleteCmd = &cobra.Command{
	Use:   "delete <year>",
	Short: "Delete a year's codebook locally and from Gemini",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		year, err := dataset.ParseYear(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/v1/info-files/"+year.String())
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted %s codebook", year)
		return nil
	},
}

func init() {
	infoUploadCmd.Flags().String("file", "", "codebook file (PDF, HTML or text)")
	infoUploadCmd.Flags().String("url", "", "codebook URL to fetch")
	infoUploadCmd.Flags().String("mime-type", "", "override the detected MIME type")
	infoCmd.AddCommand(infoUploadCmd)
	infoCmd.AddCommand(infoListCmd)
	infoCmd.AddCommand(infoDeleteCmd)
}

// --- samples ---

var samplesCmd = &cobra.Command{
	Use:   "samples",
	Short: "List or run the canned example queries",
}

var samplesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sample queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/samples")
		if err != nil {
			return err
		}
		var list []api.SampleStatus
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, s := range list {
			fmt.Fprintf(w, "%s  %s\n", colorize(styleStep, s.ID), s.Label)
			if !s.Runnable {
				fmt.Fprintln(w, colorize(styleDimmed, "    needs "+tableNames(s.MissingYears)))
			}
		}
		return nil
	},
}

var samplesRunCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Run a sample query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		csvPath, _ := cmd.Flags().GetString("csv")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/samples/"+url.PathEscape(args[0])+"/run", nil)
		if err != nil {
			return err
		}
		return showResult(cmd, resp, csvPath)
	},
}

func init() {
	samplesRunCmd.Flags().String("csv", "", "write the result to this CSV file instead of printing it")
	samplesCmd.AddCommand(samplesListCmd)
	samplesCmd.AddCommand(samplesRunCmd)
}

func tableNames(years []dataset.Year) string {
	names := make([]string, len(years))
	for i, y := range years {
		names[i] = y.TableName()
	}
	return strings.Join(names, ", ")
}

// --- draft history ---

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "Manage draft history",
}

var draftsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent drafts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/drafts?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return err
		}
		var drafts []storage.Draft
		if err := decodeJSON(resp, &drafts); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(drafts) == 0 {
			fmt.Fprintln(w, "No drafts found.")
			return nil
		}
		for _, d := range drafts {
			prompt := d.Prompt
			if r := []rune(prompt); len(r) > 80 {
				prompt = string(r[:80]) + "..."
			}
			id := d.ID
			if len(id) > 8 {
				id = id[:8]
			}
			status := ""
			if d.Status == storage.DraftFailed {
				status = colorize(styleError, " failed")
			}
			fmt.Fprintf(w, "%s  %s  %s%s\n",
				colorize(styleStep, id),
				d.CreatedAt.Format("2006-01-02 15:04"),
				prompt,
				status,
			)
		}
		return nil
	},
}

var draftsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/drafts/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var d any
		if err := decodeJSON(resp, &d); err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	},
}

var draftsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a draft from history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/v1/drafts/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted draft %s", args[0])
		return nil
	},
}

func init() {
	draftsListCmd.Flags().Int("limit", 20, "maximum number of drafts to list")
	draftsListCmd.Flags().Int("offset", 0, "number of drafts to skip")
	draftsCmd.AddCommand(draftsListCmd)
	draftsCmd.AddCommand(draftsShowCmd)
	draftsCmd.AddCommand(draftsDeleteCmd)
}

// --- dictionary ---

var dictCmd = &cobra.Command{
	Use:   "dict <year> <term>",
	Short: "Look up a survey variable in a year's data dictionary",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		year, err := dataset.ParseYear(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/dictionary/%s?q=%s", year, url.QueryEscape(args[1])))
		if err != nil {
			return err
		}
		var e dictionary.Entry
		if err := decodeJSON(resp, &e); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintln(w, colorize(styleBold, e.ColumnName))
		if e.Description != "" {
			fmt.Fprintf(w, "  Description: %s\n", e.Description)
		}
		if e.ColumnType != "" {
			fmt.Fprintf(w, "  Type: %s\n", e.ColumnType)
		}
		if e.PossibleValues != "" {
			fmt.Fprintf(w, "  Values: %s\n", e.PossibleValues)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(styleBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key",
	Short: "Store the Gemini API key in the platform secret store (read from stdin)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := readSecret(cmd.InOrStdin())
		if err != nil {
			return err
		}
		if err := config.SetGeminiKey(config.NewKeychain(), key); err != nil {
			return fmt.Errorf("storing Gemini key: %w", err)
		}
		printSuccess("Gemini API key stored")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetKeyCmd)
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading key: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("no key given on stdin")
	}
	return line, nil
}
