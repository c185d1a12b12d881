// Package knowledge assembles the document corpus behind the knowledge
// index: the built-in EcoTech documents plus anything ingested at runtime.
package knowledge

import (
	"context"
	"embed"
	"fmt"
	"path"
	"strings"

	"github.com/kalambet/ecoreturns/internal/retrieval"
	"github.com/kalambet/ecoreturns/internal/storage"
)

// Document kinds. Policy answers are restricted to KindPolicy.
const (
	KindPolicy    = "policy"
	KindProcedure = "procedure"
	KindProduct   = "product"
	KindSupport   = "support"
	KindIngested  = "ingested"
)

//go:embed corpus/*.md
var corpusFS embed.FS

var builtin = []struct {
	file string
	kind string
}{
	{"politicas_devolucion.md", KindPolicy},
	{"procedimientos_calidad.md", KindProcedure},
	{"informacion_productos.md", KindProduct},
	{"soporte_cliente.md", KindSupport},
}

// Builtin returns the embedded documents in a fixed order.
func Builtin() []retrieval.Document {
	docs := make([]retrieval.Document, 0, len(builtin))
	for _, b := range builtin {
		data, err := corpusFS.ReadFile(path.Join("corpus", b.file))
		if err != nil {
			panic("knowledge: missing embedded document " + b.file)
		}
		text := string(data)
		docs = append(docs, retrieval.Document{
			ID:    "builtin/" + strings.TrimSuffix(b.file, ".md"),
			Kind:  b.kind,
			Title: titleOf(text),
			Text:  text,
		})
	}
	return docs
}

func titleOf(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
		if line != "" {
			return ""
		}
	}
	return ""
}

// DocStore persists ingested documents.
type DocStore interface {
	SaveKnowledgeDoc(ctx context.Context, doc storage.KnowledgeDoc) error
	ListKnowledgeDocs(ctx context.Context) ([]storage.KnowledgeDoc, error)
}

// Indexer rebuilds the searchable index from a corpus.
type Indexer interface {
	BuildIndex(ctx context.Context, docs []retrieval.Document) (retrieval.IndexStats, error)
}

// Base is the corpus of built-in and ingested documents.
type Base struct {
	store DocStore
	index Indexer
}

// New creates a Base. store may be nil, in which case only the built-in
// documents are served and Add fails.
func New(store DocStore, index Indexer) *Base {
	return &Base{store: store, index: index}
}

// Documents returns the built-in documents followed by the ingested ones in
// ingestion order.
func (b *Base) Documents(ctx context.Context) ([]retrieval.Document, error) {
	docs := Builtin()
	if b.store == nil {
		return docs, nil
	}
	stored, err := b.store.ListKnowledgeDocs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing knowledge docs: %w", err)
	}
	for _, d := range stored {
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		kind := d.Kind
		if kind == "" {
			kind = KindIngested
		}
		docs = append(docs, retrieval.Document{ID: d.ID, Kind: kind, Title: d.Title, Text: d.Content})
	}
	return docs, nil
}

// Add stores an ingested document. The index is not rebuilt.
func (b *Base) Add(ctx context.Context, doc storage.KnowledgeDoc) error {
	if b.store == nil {
		return fmt.Errorf("knowledge base has no document store")
	}
	if strings.TrimSpace(doc.Content) == "" {
		return fmt.Errorf("document %s has no text", doc.ID)
	}
	if doc.Kind == "" {
		doc.Kind = KindIngested
	}
	if err := b.store.SaveKnowledgeDoc(ctx, doc); err != nil {
		return fmt.Errorf("saving knowledge doc %s: %w", doc.ID, err)
	}
	return nil
}

// Rebuild loads the current corpus and indexes it.
func (b *Base) Rebuild(ctx context.Context) (retrieval.IndexStats, error) {
	docs, err := b.Documents(ctx)
	if err != nil {
		return retrieval.IndexStats{}, err
	}
	return b.index.BuildIndex(ctx, docs)
}
