package engine

import (
	"context"
	"math"
	"testing"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	h := NewHashEmbedder(64)
	a, err := h.Embed(context.Background(), "¿Cuál es la política de devolución?")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, _ := NewHashEmbedder(64).Embed(context.Background(), "¿Cuál es la política de devolución?")
	if len(a) != 64 {
		t.Fatalf("len = %d, want 64", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("component %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestHashEmbedder_Normalized(t *testing.T) {
	v, _ := NewHashEmbedder(0).Embed(context.Background(), "garantía de treinta días para electrónicos")
	if len(v) != DefaultHashDimensions {
		t.Fatalf("len = %d, want %d", len(v), DefaultHashDimensions)
	}
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("squared norm = %v, want 1", sum)
	}

	empty, _ := NewHashEmbedder(8).Embed(context.Background(), "¿?")
	for _, f := range empty {
		if f != 0 {
			t.Fatalf("expected zero vector for tokenless text, got %v", empty)
		}
	}
}

func TestHashEmbedder_AccentAndInflectionInsensitive(t *testing.T) {
	h := NewHashEmbedder(256)
	ctx := context.Background()
	q, _ := h.Embed(ctx, "politica devoluciones")
	related, _ := h.Embed(ctx, "Política de devolución de EcoTech")
	unrelated, _ := h.Embed(ctx, "Horario de atención telefónica")

	if cosine(q, related) <= cosine(q, unrelated) {
		t.Errorf("expected related text to score higher: related=%v unrelated=%v",
			cosine(q, related), cosine(q, unrelated))
	}
}

func TestHashEmbedder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewHashEmbedder(8).Embed(ctx, "x y"); err == nil {
		t.Error("expected error for cancelled context")
	}
}
