package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordRouter_Route(t *testing.T) {
	cases := []struct {
		query string
		want  Route
	}{
		{"Necesito una etiqueta de devolución para PROD001, cliente CLI001", RouteLabel},
		{"Generate a return LABEL for PROD002", RouteLabel},
		{"etiqueta para el cliente CLI002", RouteLabel},
		{"¿Es ELEGIBLE el PROD001 comprado el 2024-01-01?", RouteEligibility},
		{"Quiero devolver PROD003 que compré el 2024-02-02", RouteEligibility},
		{"can I return PROD002?", RouteEligibility},
		{"Verificar PROD004", RouteEligibility},
		{"¿Puedo devolver mis auriculares?", RouteKnowledge},
		{"¿Puedo devolver ropa usada?", RoutePolicy},
		{"Quiero verificar la política de garantía", RoutePolicy},
		{"¿Cómo imprimo la etiqueta de devolución?", RoutePolicy},
		{"¿Es elegible mi compra?", RouteKnowledge},
		{"Customer CLI001 needs a label", RouteLabel},
		{"¿Cuáles son las políticas de devolución para electrónicos?", RoutePolicy},
		{"¿Cuál es el plazo para tablets?", RoutePolicy},
		{"Información sobre garantía", RoutePolicy},
		{"tablets", RoutePolicy},
		{"¿Cuántos días tengo para devolver ropa?", RoutePolicy},
		{"¿Cuál es el teléfono de soporte?", RouteKnowledge},
		{"hola", RouteKnowledge},
	}
	var r KeywordRouter
	for _, c := range cases {
		assert.Equal(t, c.want, r.Route(c.query), c.query)
	}
}

func TestKeywordRouter_LabelBeatsEligibility(t *testing.T) {
	var r KeywordRouter
	assert.Equal(t, RouteLabel, r.Route("¿Puedo devolver PROD001? Genera la etiqueta para CLI002"))
}

func TestKeywordRouter_KeywordWithoutIDIsNotATool(t *testing.T) {
	var r KeywordRouter
	for _, q := range []string{
		"Necesito una etiqueta de devolución",
		"¿Cómo genero un label?",
		"Quiero verificar la garantía de mi tablet",
		"¿Es elegible un producto abierto?",
	} {
		got := r.Route(q)
		assert.NotEqual(t, RouteLabel, got, q)
		assert.NotEqual(t, RouteEligibility, got, q)
	}
}

func TestExtract(t *testing.T) {
	a := Extract("  etiqueta para prod001 y cli003, compra 2024-03-15 (otra: PROD002 2024-04-01) electrónicos ")
	assert.Equal(t, Args{
		Query:        "etiqueta para prod001 y cli003, compra 2024-03-15 (otra: PROD002 2024-04-01) electrónicos",
		ProductID:    "PROD001",
		CustomerID:   "CLI003",
		PurchaseDate: "2024-03-15",
		Category:     "electronics",
	}, a)

	empty := Extract("sin datos")
	assert.Empty(t, empty.ProductID)
	assert.Empty(t, empty.CustomerID)
	assert.Empty(t, empty.PurchaseDate)
	assert.Empty(t, empty.Category)

	// Embedded in a longer token the id is not extracted.
	assert.Empty(t, Extract("XPROD001").ProductID)
}

func TestPlan(t *testing.T) {
	assert.Equal(t, []Capability{CheckEligibility, GenerateLabel}, Plan(RouteLabel, Args{PurchaseDate: "2024-01-01"}))
	assert.Equal(t, []Capability{GenerateLabel}, Plan(RouteLabel, Args{}))
	assert.Equal(t, []Capability{CheckEligibility}, Plan(RouteEligibility, Args{}))
	assert.Equal(t, []Capability{PolicyAnswer}, Plan(RoutePolicy, Args{}))
	assert.Equal(t, []Capability{KnowledgeAnswer}, Plan(RouteKnowledge, Args{}))
}

func TestMissingArgs(t *testing.T) {
	d := Decision{Steps: []Capability{CheckEligibility, GenerateLabel}, Args: Args{ProductID: "PROD001", PurchaseDate: "2024-01-01"}}
	assert.Equal(t, []string{ArgCustomerID}, missingArgs(d))

	d = Decision{Steps: []Capability{CheckEligibility}, Args: Args{Query: "x"}}
	assert.Equal(t, []string{ArgProductID, ArgPurchaseDate}, missingArgs(d))
}
