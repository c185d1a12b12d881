package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/ecoreturns/internal/catalog"
	"github.com/kalambet/ecoreturns/internal/eligibility"
	"github.com/kalambet/ecoreturns/internal/ingest"
	"github.com/kalambet/ecoreturns/internal/knowledge"
	"github.com/kalambet/ecoreturns/internal/label"
	"github.com/kalambet/ecoreturns/internal/orchestrator"
	"github.com/kalambet/ecoreturns/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Rules    orchestrator.EligibilityChecker
	Labels   orchestrator.LabelIssuer
	Answerer orchestrator.Answerer
	Queries  QueryProcessor
	Store    *storage.Store
	Stats    StatsReporter // optional; if nil, the stats resource is not registered
	Version  string
}

// NewMCPServer creates an MCP server exposing the return capabilities as
// tools and recent activity as resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"ecoreturns",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("ecoreturns: EcoTech product return assistant. Checks return eligibility, issues return labels and answers policy questions."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("check_eligibility",
			mcp.WithDescription("Check whether a product purchased on a given date can still be returned."),
			mcp.WithString("product_id", mcp.Description("Product code, e.g. PROD001"), mcp.Required()),
			mcp.WithString("purchase_date", mcp.Description("Purchase date as YYYY-MM-DD"), mcp.Required()),
		),
		mcpCheckEligibility(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_return_label",
			mcp.WithDescription("Issue a return label for an eligible product."),
			mcp.WithString("product_id", mcp.Description("Product code, e.g. PROD001"), mcp.Required()),
			mcp.WithString("customer_id", mcp.Description("Customer code, e.g. CLI001"), mcp.Required()),
			mcp.WithString("purchase_date", mcp.Description("Purchase date as YYYY-MM-DD; when omitted only exclusions are checked")),
		),
		mcpGenerateLabel(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_policy",
			mcp.WithDescription("Answer a question about return policies from the knowledge base."),
			mcp.WithString("question", mcp.Description("The question, in Spanish or English"), mcp.Required()),
			mcp.WithString("category", mcp.Description("Optional product category, e.g. electronics or tablets")),
		),
		mcpAskPolicy(deps),
	)

	s.AddTool(
		mcp.NewTool("process_query",
			mcp.WithDescription("Process a free-text customer query end to end, as the chat assistant does."),
			mcp.WithString("query", mcp.Description("Customer query"), mcp.Required()),
		),
		mcpProcessQuery(deps),
	)

	s.AddTool(
		mcp.NewTool("add_knowledge",
			mcp.WithDescription("Add a text document to the knowledge base. The index is rebuilt in the background."),
			mcp.WithString("content", mcp.Description("Document text"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Document title")),
			mcp.WithString("kind", mcp.Description("policy, procedure, product, support or ingested (default)")),
		),
		mcpAddKnowledge(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"ecoreturns://interactions/recent",
			"Recent Interactions",
			mcp.WithResourceDescription("Last 10 processed queries with their status"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	if deps.Stats != nil {
		s.AddResource(
			mcp.NewResource(
				"ecoreturns://stats",
				"Assistant Statistics",
				mcp.WithResourceDescription("Interaction counts, tool usage and error rate since start"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceStats(deps),
		)
	}

	return s
}

func normID(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func mcpCheckEligibility(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		productID, err := req.RequireString("product_id")
		if err != nil {
			return mcpError("product_id is required"), nil
		}
		rawDate, err := req.RequireString("purchase_date")
		if err != nil {
			return mcpError("purchase_date is required"), nil
		}
		date, err := eligibility.ParseDate(rawDate)
		if err != nil {
			return mcpError(fmt.Sprintf("invalid purchase_date %q: use YYYY-MM-DD", rawDate)), nil
		}

		v := deps.Rules.Evaluate(normID(productID), date)
		if v.Reason == eligibility.ReasonProductNotFound {
			return mcpError(fmt.Sprintf("product %s not found", v.ProductID)), nil
		}
		return mcpJSON(v)
	}
}

func mcpGenerateLabel(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		productID, err := req.RequireString("product_id")
		if err != nil {
			return mcpError("product_id is required"), nil
		}
		customerID, err := req.RequireString("customer_id")
		if err != nil {
			return mcpError("customer_id is required"), nil
		}

		var purchase time.Time
		if raw := req.GetString("purchase_date", ""); raw != "" {
			if purchase, err = eligibility.ParseDate(raw); err != nil {
				return mcpError(fmt.Sprintf("invalid purchase_date %q: use YYYY-MM-DD", raw)), nil
			}
		}

		lbl, err := deps.Labels.Generate(normID(productID), normID(customerID), purchase)
		if err != nil {
			var le *label.Error
			if errors.As(err, &le) {
				return mcpError(le.Error()), nil
			}
			return mcpError(fmt.Sprintf("label generation failed: %v", err)), nil
		}
		return mcpJSON(lbl)
	}
}

func mcpAskPolicy(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || strings.TrimSpace(question) == "" {
			return mcpError("question is required"), nil
		}
		if raw := req.GetString("category", ""); raw != "" {
			c, err := catalog.ParseCategory(raw)
			if err != nil {
				return mcpError(err.Error()), nil
			}
			question += " " + c.Label()
		}

		ans, err := deps.Answerer.Answer(ctx, question, knowledge.KindPolicy)
		if err != nil {
			return mcpError(fmt.Sprintf("answer failed: %v", err)), nil
		}

		type source struct {
			DocID string  `json:"doc_id"`
			Score float32 `json:"score"`
		}
		out := struct {
			Answer   string   `json:"answer"`
			Mode     string   `json:"mode"`
			Degraded bool     `json:"degraded,omitempty"`
			Sources  []source `json:"sources"`
		}{Answer: ans.Text, Mode: string(ans.Mode), Degraded: ans.Degraded, Sources: []source{}}
		for _, c := range ans.Supporting {
			out.Sources = append(out.Sources, source{DocID: c.DocID, Score: c.Score})
		}
		return mcpJSON(out)
	}
}

func mcpProcessQuery(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		res, err := deps.Queries.ProcessQuery(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}

		out := struct {
			Answer  string              `json:"answer"`
			Status  orchestrator.Status `json:"status"`
			TraceID string              `json:"trace_id"`
			Reason  string              `json:"failure_reason,omitempty"`
		}{res.Answer, res.Status, res.Trace.ID, res.Trace.FailureReason}
		return mcpJSON(out)
	}
}

func mcpAddKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		kind := req.GetString("kind", knowledge.KindIngested)
		if !ingestKinds[kind] {
			return mcpError(fmt.Sprintf("unknown kind %q", kind)), nil
		}

		docID, _, err := ingest.EnqueueIngest(ctx, deps.Store, ingest.Payload{
			Kind:    kind,
			Title:   req.GetString("title", ""),
			Source:  "mcp",
			Type:    ingest.SourceText,
			Content: content,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue document: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Queued knowledge doc %s", docID)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		interactions, err := deps.Store.GetRecentInteractions(ctx, 10, "")
		if err != nil {
			return nil, fmt.Errorf("failed to get recent interactions: %w", err)
		}

		type interactionSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Query     string `json:"query"`
			Status    string `json:"status"`
		}

		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			query := ix.Query
			if utf8.RuneCountInString(query) > 200 {
				runes := []rune(query)
				query = string(runes[:200]) + "..."
			}
			summaries[i] = interactionSummary{
				ID:        ix.ID,
				CreatedAt: ix.CreatedAt.Format(time.RFC3339),
				Query:     query,
				Status:    ix.Status,
			}
		}

		return jsonResource(req.Params.URI, summaries)
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return jsonResource(req.Params.URI, deps.Stats.Snapshot())
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
