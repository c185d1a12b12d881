package intent

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/kalambet/ecoreturns/internal/engine"
)

var testCapabilities = []string{"check_eligibility", "generate_label", "policy_answer", "knowledge_answer"}

// mockChatter implements Chatter for testing.
type mockChatter struct {
	response string
	err      error
	delay    time.Duration
	schema   *engine.Schema
}

func (m *mockChatter) Chat(ctx context.Context, messages []engine.Message, jsonSchema *engine.Schema) (string, error) {
	m.schema = jsonSchema
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.response, m.err
}

func TestExtract_Label(t *testing.T) {
	mock := &mockChatter{
		response: `{"capability":"generate_label","product_id":" prod001","customer_id":"cli002","purchase_date":"2026-01-10","category":""}`,
	}
	got := NewExtractor(mock, testCapabilities, 0).Extract(context.Background(), "quiero una etiqueta para mi smartphone")

	want := Intent{Capability: "generate_label", ProductID: "PROD001", CustomerID: "CLI002", PurchaseDate: "2026-01-10"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract() = %+v, want %+v", got, want)
	}
	if mock.schema == nil || !reflect.DeepEqual(mock.schema.Properties["capability"].Enum, testCapabilities) {
		t.Error("schema does not restrict capability to the allowed set")
	}
}

func TestExtract_MalformedJSON(t *testing.T) {
	mock := &mockChatter{response: `not valid json {{{`}
	got := NewExtractor(mock, testCapabilities, 0).Extract(context.Background(), "some query")

	if got.Capability != "" {
		t.Errorf("Capability = %q, want zero value", got.Capability)
	}
}

func TestExtract_UnknownCapability(t *testing.T) {
	mock := &mockChatter{response: `{"capability":"refund_now","product_id":"PROD001"}`}
	got := NewExtractor(mock, testCapabilities, 0).Extract(context.Background(), "devuélveme el dinero")

	if got != (Intent{}) {
		t.Errorf("Extract() = %+v, want zero value", got)
	}
}

func TestExtract_ChatError(t *testing.T) {
	mock := &mockChatter{err: fmt.Errorf("%w: connection refused", engine.ErrUnavailable)}
	got := NewExtractor(mock, testCapabilities, 0).Extract(context.Background(), "hola")

	if got != (Intent{}) {
		t.Errorf("Extract() = %+v, want zero value", got)
	}
}

func TestExtract_Timeout(t *testing.T) {
	mock := &mockChatter{response: `{"capability":"policy_answer"}`, delay: time.Second}
	start := time.Now()
	got := NewExtractor(mock, testCapabilities, 50*time.Millisecond).Extract(context.Background(), "plazos")

	if got.Capability != "" {
		t.Errorf("Capability = %q, want zero value after timeout", got.Capability)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Extract took %v, want it bounded by the timeout", elapsed)
	}
}

func TestExtract_EmptyQuery(t *testing.T) {
	mock := &mockChatter{response: `{"capability":"policy_answer"}`}
	if got := NewExtractor(mock, testCapabilities, 0).Extract(context.Background(), "   "); got.Capability != "" {
		t.Errorf("Capability = %q, want zero value for empty query", got.Capability)
	}
	if mock.schema != nil {
		t.Error("chat should not be called for an empty query")
	}
}
