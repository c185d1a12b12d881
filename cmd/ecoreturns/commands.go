package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/ecoreturns/internal/api"
	"github.com/kalambet/ecoreturns/internal/config"
	"github.com/kalambet/ecoreturns/internal/eligibility"
	"github.com/kalambet/ecoreturns/internal/label"
	"github.com/kalambet/ecoreturns/internal/orchestrator"
	"github.com/kalambet/ecoreturns/internal/storage"
)

// --- ask / chat ---

type queryProcessor interface {
	ProcessQuery(ctx context.Context, text string) (orchestrator.Result, error)
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a single customer query",
	Long: `Answer a single customer query with the local assistant.

Examples:
  ecoreturns ask "¿Es elegible PROD001 comprado el 2026-10-01?"
  ecoreturns ask "Necesito una etiqueta para PROD002, cliente CLI001"
  ecoreturns ask --json "¿Cuál es la política de devolución de ropa?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := openLocalApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.orch.ProcessQuery(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		printResult(cmd.OutOrStdout(), res)
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive session with the assistant (salir, exit or quit to leave)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openLocalApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := runChat(cmd.Context(), a.orch, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
			return err
		}
		s := a.stats.Snapshot()
		printStatus("Interactions", "%d (%d successful, %d partial, %d errors)",
			s.TotalInteractions, s.SuccessfulInteractions, s.PartialInteractions, s.Errors)
		return nil
	},
}

func init() {
	askCmd.Flags().Bool("json", false, "print the full result with its trace as JSON")
}

// openLocalApp builds the assistant in-process with logging kept quiet
// unless configured otherwise.
func openLocalApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "warn"
	}
	initLogging(cfg)
	return buildApp(cmd.Context(), cfg, cmd.ErrOrStderr())
}

func isExitCommand(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "salir", "exit", "quit":
		return true
	}
	return false
}

// runChat reads one query per line until EOF, an exit command or ctx is
// cancelled. Query failures are printed and the session continues.
func runChat(ctx context.Context, q queryProcessor, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, colorize(colorBold, "Asistente de devoluciones EcoTech"))
	fmt.Fprintln(out, "Escribe tu consulta ('salir' para terminar).")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, colorize(colorCyan, "> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if isExitCommand(line) {
			fmt.Fprintln(out, "¡Hasta pronto!")
			return nil
		}

		res, err := q.ProcessQuery(ctx, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintln(out, colorize(colorRed, "error: "+err.Error()))
			continue
		}
		printResult(out, res)
	}
}

func printResult(w io.Writer, res orchestrator.Result) {
	fmt.Fprintln(w, res.Answer)
	meta := fmt.Sprintf("[%s · %s · %dms]", res.Status, res.Trace.Route, res.Trace.LatencyMS)
	if res.Trace.FailureReason != "" {
		meta = fmt.Sprintf("[%s: %s · %s]", res.Status, res.Trace.FailureReason, res.Trace.Route)
	}
	fmt.Fprintln(w, colorize(statusColor(string(res.Status)), meta))
}

// --- eligibility / label ---

var eligibilityCmd = &cobra.Command{
	Use:   "eligibility <product-id> <purchase-date>",
	Short: "Check whether a purchase can be returned",
	Long: `Check whether a purchase can be returned. Dates use the YYYY-MM-DD format.

Example:
  ecoreturns eligibility PROD001 2026-10-01`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		_, rules, _, err := rulesFromConfig(cfg)
		if err != nil {
			return err
		}

		date, err := eligibility.ParseDate(args[1])
		if err != nil {
			return err
		}
		v := rules.Evaluate(strings.ToUpper(args[0]), date)
		if asJSON {
			return printJSON(cmd.OutOrStdout(), v)
		}
		printVerdict(cmd.OutOrStdout(), v)
		return nil
	},
}

var labelCmd = &cobra.Command{
	Use:   "label <product-id> <customer-id> [purchase-date]",
	Short: "Issue a return label",
	Long: `Issue a return label. Without a purchase date only the product and
customer records and the non-returnable rules are checked.

Example:
  ecoreturns label PROD002 CLI001 2026-10-10`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		_, _, labels, err := rulesFromConfig(cfg)
		if err != nil {
			return err
		}

		var date time.Time
		if len(args) == 3 {
			if date, err = eligibility.ParseDate(args[2]); err != nil {
				return err
			}
		}
		l, err := labels.Generate(strings.ToUpper(args[0]), strings.ToUpper(args[1]), date)
		if err != nil {
			var le *label.Error
			if errors.As(err, &le) {
				return fmt.Errorf("label refused: %w", err)
			}
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), l)
		}
		printSuccess("Label %s issued", l.LabelID)
		fmt.Fprintln(cmd.OutOrStdout(), l.Instructions)
		return nil
	},
}

func init() {
	eligibilityCmd.Flags().Bool("json", false, "print the verdict as JSON")
	labelCmd.Flags().Bool("json", false, "print the label as JSON")
}

func printVerdict(w io.Writer, v eligibility.Verdict) {
	if v.Eligible {
		fmt.Fprintln(w, colorize(colorGreen, "✓ eligible"))
	} else {
		fmt.Fprintln(w, colorize(colorRed, "✗ not eligible: "+string(v.Reason)))
	}
	fmt.Fprintf(w, "  product:  %s %s\n", v.ProductID, v.ProductName)
	if !v.PurchaseDate.IsZero() {
		fmt.Fprintf(w, "  purchase: %s\n", v.PurchaseDate.Format(eligibility.DateLayout))
	}
	if v.WindowDays > 0 {
		fmt.Fprintf(w, "  elapsed:  %d of %d days\n", v.DaysElapsed, v.WindowDays)
	}
	if v.NearDeadline {
		fmt.Fprintln(w, colorize(colorYellow, "  the return window closes soon"))
	}
	if v.HighValue {
		fmt.Fprintln(w, colorize(colorYellow, "  high value item: additional inspection required"))
	}
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the knowledge index locally and show its statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openLocalApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		st, ok := a.retriever.Stats()
		if !ok {
			return errors.New("knowledge index is unavailable, check the embedding provider")
		}
		printStatus("Documents", "%d", st.Documents)
		printStatus("Chunks", "%d", st.Chunks)
		printStatus("Embedder", "%s (%d dimensions)", st.Embedder, st.Dimensions)
		printStatus("Fingerprint", "%s", st.Fingerprint)
		printStatus("Vector cache", "%t", st.Cached)
		return nil
	},
}

// --- knowledge ---

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage ingested knowledge documents on the running server",
}

var knowledgeAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Ingest a document into the knowledge base",
	Long: `Ingest a document into the knowledge base. The server extracts the text
and rebuilds the index in the background.

Examples:
  ecoreturns knowledge add --text "Las devoluciones de ropa requieren etiqueta original" --kind policy
  ecoreturns knowledge add --url https://example.com/garantia
  ecoreturns knowledge add --file ./manual.pdf --title "Manual de tablets"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		link, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		kind, _ := cmd.Flags().GetString("kind")

		req := api.IngestRequest{Source: "cli", Title: title, Kind: kind}
		switch {
		case text != "":
			req.Type = "text"
			req.Content = text
		case link != "":
			req.Type = "url"
			req.URL = link
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			req.Type = "file"
			req.Content = base64.StdEncoding.EncodeToString(data)
			req.Filename = filepath.Base(file)
		default:
			return errors.New("one of --text, --url, or --file is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/knowledge", req)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Queued doc %s (job %s)", result["id"], result["job_id"])
		return nil
	},
}

var knowledgeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/knowledge")
		if err != nil {
			return err
		}
		var docs []api.KnowledgeDocView
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(docs) == 0 {
			fmt.Fprintln(out, "No ingested documents.")
			return nil
		}
		for _, d := range docs {
			fmt.Fprintf(out, "%s  %-9s %6d  %s\n",
				colorize(colorCyan, d.ID),
				d.Kind,
				d.Length,
				truncate(d.Title, 60),
			)
		}
		return nil
	},
}

var knowledgeShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an ingested document with its content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/knowledge/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var doc api.KnowledgeDocView
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), doc)
	},
}

var knowledgeDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an ingested document and rebuild the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/v1/knowledge/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted doc %s", args[0])
		return nil
	},
}

var knowledgeRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Queue an index rebuild on the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/knowledge/rebuild", nil)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Queued rebuild (job %s)", result["job_id"])
		return nil
	},
}

func init() {
	knowledgeAddCmd.Flags().String("text", "", "text content to ingest")
	knowledgeAddCmd.Flags().String("url", "", "URL to fetch and ingest")
	knowledgeAddCmd.Flags().String("file", "", "file to ingest (text, markdown, HTML or PDF)")
	knowledgeAddCmd.Flags().String("title", "", "title for the document")
	knowledgeAddCmd.Flags().String("kind", "", "document kind: policy, procedure, product, support")
	knowledgeCmd.AddCommand(knowledgeAddCmd, knowledgeListCmd, knowledgeShowCmd, knowledgeDeleteCmd, knowledgeRebuildCmd)
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show assistant statistics from the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/stats")
		if err != nil {
			return err
		}
		var stats api.StatsResponse
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}
		printStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

func printStats(w io.Writer, s api.StatsResponse) {
	if s.Session != nil {
		fmt.Fprintln(w, colorize(colorBold, "Session"))
		fmt.Fprintf(w, "  model:        %s\n", s.Session.ModelType)
		fmt.Fprintf(w, "  since:        %s\n", s.Session.Since.Format(time.RFC3339))
		fmt.Fprintf(w, "  interactions: %d\n", s.Session.TotalInteractions)
		fmt.Fprintf(w, "  successful:   %d\n", s.Session.SuccessfulInteractions)
		fmt.Fprintf(w, "  partial:      %d\n", s.Session.PartialInteractions)
		fmt.Fprintf(w, "  errors:       %d\n", s.Session.Errors)
		fmt.Fprintf(w, "  error rate:   %.1f%%\n", s.Session.ErrorRate*100)
		for _, name := range sortedKeys(s.Session.ToolsUsed) {
			fmt.Fprintf(w, "  tool %-20s %d\n", name+":", s.Session.ToolsUsed[name])
		}
	}
	if len(s.ByStatus) > 0 {
		fmt.Fprintln(w, colorize(colorBold, "Recorded"))
		for _, status := range sortedKeys(s.ByStatus) {
			fmt.Fprintf(w, "  %-12s  %d\n", status+":", s.ByStatus[status])
		}
	}
	if s.Index != nil {
		fmt.Fprintln(w, colorize(colorBold, "Index"))
		fmt.Fprintf(w, "  %d documents, %d chunks (%s)\n", s.Index.Documents, s.Index.Chunks, s.Index.Embedder)
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "Browse recorded interactions on the running server",
}

var interactionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		status, _ := cmd.Flags().GetString("status")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("limit", fmt.Sprint(limit))
		if status != "" {
			q.Set("status", status)
		}
		resp, err := client.get(cmd.Context(), "/v1/interactions?"+q.Encode())
		if err != nil {
			return err
		}

		var interactions []api.InteractionView
		if err := decodeJSON(resp, &interactions); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(interactions) == 0 {
			fmt.Fprintln(out, "No interactions found.")
			return nil
		}
		for _, ix := range interactions {
			id := ix.ID
			if len(id) > 8 {
				id = id[:8]
			}
			fmt.Fprintf(out, "%s  %s  %s  %s\n",
				colorize(colorCyan, id),
				ix.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				colorize(statusColor(ix.Status), fmt.Sprintf("%-7s", ix.Status)),
				truncate(ix.Query, 80),
			)
		}
		return nil
	},
}

var interactionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single interaction with its trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/interactions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var interaction api.InteractionView
		if err := decodeJSON(resp, &interaction); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), interaction)
	},
}

var interactionsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete old interactions from local storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		age, _ := cmd.Flags().GetDuration("older-than")
		if age <= 0 {
			return fmt.Errorf("--older-than must be positive, got %s", age)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.PurgeInteractions(cmd.Context(), time.Now().Add(-age))
		if err != nil {
			return fmt.Errorf("purging interactions: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d interactions older than %s\n", n, age)
		return nil
	},
}

func init() {
	interactionsPurgeCmd.Flags().Duration("older-than", 30*24*time.Hour, "delete interactions recorded before now minus this age")
	interactionsListCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	interactionsListCmd.Flags().String("status", "", "only list interactions with this status (success, partial, failure)")
	interactionsCmd.AddCommand(interactionsListCmd)
	interactionsCmd.AddCommand(interactionsShowCmd)
	interactionsCmd.AddCommand(interactionsPurgeCmd)
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
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the config file. Secrets (server.api_token,
openai.api_key) are only read from the environment.

Valid keys: ` + strings.Join(config.ValidKeys(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value, restoring its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
