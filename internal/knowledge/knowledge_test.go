package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/ecoreturns/internal/engine"
	"github.com/kalambet/ecoreturns/internal/retrieval"
	"github.com/kalambet/ecoreturns/internal/storage"
)

type memStore struct {
	docs []storage.KnowledgeDoc
	err  error
}

func (m *memStore) SaveKnowledgeDoc(_ context.Context, doc storage.KnowledgeDoc) error {
	m.docs = append(m.docs, doc)
	return nil
}

func (m *memStore) ListKnowledgeDocs(context.Context) ([]storage.KnowledgeDoc, error) {
	return m.docs, m.err
}

func TestBuiltin(t *testing.T) {
	docs := Builtin()
	require.Len(t, docs, 4)

	kinds := map[string]int{}
	for _, d := range docs {
		kinds[d.Kind]++
		assert.NotEmpty(t, d.Title, d.ID)
		assert.NotEmpty(t, d.Text, d.ID)
	}
	assert.Equal(t, 1, kinds[KindPolicy])
	assert.Equal(t, "Políticas de devolución EcoTech", docs[0].Title)
	assert.Contains(t, docs[0].Text, "Electrónicos: 30 días")
}

func TestDocuments_AppendsIngested(t *testing.T) {
	st := &memStore{docs: []storage.KnowledgeDoc{
		{ID: "a", Title: "Garantía extendida", Content: "La garantía extendida cubre dos años."},
		{ID: "b", Kind: KindPolicy, Content: "Devoluciones de ropa: 15 días."},
		{ID: "c", Content: "   "},
	}}
	docs, err := New(st, nil).Documents(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 6)
	assert.Equal(t, "a", docs[4].ID)
	assert.Equal(t, KindIngested, docs[4].Kind)
	assert.Equal(t, KindPolicy, docs[5].Kind)
}

func TestDocuments_StoreError(t *testing.T) {
	_, err := New(&memStore{err: errors.New("boom")}, nil).Documents(context.Background())
	require.Error(t, err)
}

func TestAdd(t *testing.T) {
	st := &memStore{}
	b := New(st, nil)
	require.NoError(t, b.Add(context.Background(), storage.KnowledgeDoc{ID: "x", Content: "hola"}))
	require.Len(t, st.docs, 1)
	assert.Equal(t, KindIngested, st.docs[0].Kind)

	assert.Error(t, b.Add(context.Background(), storage.KnowledgeDoc{ID: "y"}))
	assert.Error(t, New(nil, nil).Add(context.Background(), storage.KnowledgeDoc{ID: "z", Content: "x"}))
}

func TestRebuild_IndexesCorpus(t *testing.T) {
	emb := retrieval.NewEmbedder(engine.NewHashEmbedder(64), retrieval.EmbedderOptions{})
	r, err := retrieval.NewRetriever(emb)
	require.NoError(t, err)

	st := &memStore{docs: []storage.KnowledgeDoc{{ID: "extra", Content: "Las baterías se reciclan en tienda."}}}
	stats, err := New(st, r).Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Documents)

	hits, err := r.SearchKinds(context.Background(), "plazo de devolución de tablets", 1, KindPolicy)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "builtin/politicas_devolucion", hits[0].DocID)
}
