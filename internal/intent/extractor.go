package intent

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kalambet/ecoreturns/internal/engine"
)

const defaultExtractionTimeout = 3 * time.Second

// Chatter is the structured chat capability used for extraction.
type Chatter interface {
	Chat(ctx context.Context, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Intent is the capability a generator picked for a query, plus any
// arguments it found in the text. Empty fields were not found.
type Intent struct {
	Capability   string `json:"capability"`
	ProductID    string `json:"product_id"`
	CustomerID   string `json:"customer_id"`
	PurchaseDate string `json:"purchase_date"`
	Category     string `json:"category"`
}

// Extractor asks a generator to classify a customer query into one of a
// closed set of capabilities.
type Extractor struct {
	client       Chatter
	capabilities []string
	timeout      time.Duration
	now          func() time.Time
}

// NewExtractor creates an Extractor restricted to the given capability
// names. A non-positive timeout uses the default of 3s.
func NewExtractor(client Chatter, capabilities []string, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = defaultExtractionTimeout
	}
	return &Extractor{client: client, capabilities: capabilities, timeout: timeout, now: time.Now}
}

// Extract classifies the query. On any failure (timeout, malformed JSON,
// backend error, capability outside the allowed set) it returns a
// zero-value Intent; callers fall back to deterministic routing.
func (e *Extractor) Extract(ctx context.Context, query string) Intent {
	if strings.TrimSpace(query) == "" {
		return Intent{}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	messages := BuildPrompt(query, e.capabilities, e.now())

	raw, err := e.client.Chat(ctx, messages, e.schema())
	if err != nil {
		log.Warn().Err(err).Msg("intent extraction chat failed")
		return Intent{}
	}

	var result Intent
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		log.Warn().Err(err).Str("response", raw).Msg("failed to unmarshal intent from model response")
		return Intent{}
	}
	if !slices.Contains(e.capabilities, result.Capability) {
		log.Warn().Str("capability", result.Capability).Msg("model picked an unknown capability")
		return Intent{}
	}
	result.ProductID = strings.ToUpper(strings.TrimSpace(result.ProductID))
	result.CustomerID = strings.ToUpper(strings.TrimSpace(result.CustomerID))
	result.PurchaseDate = strings.TrimSpace(result.PurchaseDate)
	return result
}

// schema returns the JSON schema for structured intent output.
func (e *Extractor) schema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"capability":    {Type: "string", Description: "The single capability that answers the query", Enum: e.capabilities},
			"product_id":    {Type: "string", Description: "Product id such as PROD001, empty if absent"},
			"customer_id":   {Type: "string", Description: "Customer id such as CLI001, empty if absent"},
			"purchase_date": {Type: "string", Description: "Purchase date as YYYY-MM-DD, empty if absent"},
			"category":      {Type: "string", Description: "Product category mentioned, empty if absent"},
		},
		Required: []string{"capability", "product_id", "customer_id", "purchase_date", "category"},
	}
}
