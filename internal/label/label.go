// Package label produces return label documents for eligible purchases.
package label

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/ecoreturns/internal/catalog"
	"github.com/kalambet/ecoreturns/internal/eligibility"
)

// Kind classifies label failures.
type Kind string

const (
	KindIneligible       Kind = "ineligible"
	KindProductNotFound  Kind = "product_not_found"
	KindCustomerNotFound Kind = "customer_not_found"
)

// Error is returned when no label can be produced.
type Error struct {
	Kind Kind
	// Reason carries the eligibility reason for KindIneligible.
	Reason eligibility.Reason
	ID     string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindIneligible:
		return fmt.Sprintf("product %s is not eligible for return: %s", e.ID, e.Reason)
	case KindCustomerNotFound:
		return fmt.Sprintf("customer %s not found", e.ID)
	default:
		return fmt.Sprintf("product %s not found", e.ID)
	}
}

// ReturnLabel is an issued label. It is immutable once created.
type ReturnLabel struct {
	LabelID      string              `json:"label_id"`
	ProductID    string              `json:"product_id"`
	CustomerID   string              `json:"customer_id"`
	Verdict      eligibility.Verdict `json:"verdict"`
	Instructions string              `json:"instructions"`
	CreatedAt    time.Time           `json:"created_at"`
}

// Catalog resolves the records a label refers to.
type Catalog interface {
	Product(id string) (catalog.Product, bool)
	Customer(id string) (catalog.Customer, bool)
}

// Generator issues labels. Label sequence numbers are unique per process.
type Generator struct {
	catalog Catalog
	rules   *eligibility.Engine
	now     func() time.Time
}

// New creates a Generator that consults rules before issuing any label.
func New(c Catalog, rules *eligibility.Engine) *Generator {
	return &Generator{catalog: c, rules: rules, now: time.Now}
}

// Generate evaluates eligibility and, only if eligible, issues a label.
// A zero purchaseDate evaluates the product as of today, so only the
// existence and non-returnable checks can fail.
func (g *Generator) Generate(productID, customerID string, purchaseDate time.Time) (ReturnLabel, error) {
	var v eligibility.Verdict
	if purchaseDate.IsZero() {
		v = g.rules.CheckExclusions(productID)
	} else {
		v = g.rules.Evaluate(productID, purchaseDate)
	}

	switch {
	case v.Reason == eligibility.ReasonProductNotFound:
		return ReturnLabel{}, &Error{Kind: KindProductNotFound, ID: productID}
	case !v.Eligible:
		return ReturnLabel{}, &Error{Kind: KindIneligible, Reason: v.Reason, ID: productID}
	}

	product, _ := g.catalog.Product(productID)
	customer, ok := g.catalog.Customer(customerID)
	if !ok {
		return ReturnLabel{}, &Error{Kind: KindCustomerNotFound, ID: customerID}
	}

	id := newLabelID(productID)
	text, err := renderInstructions(instructionData{
		LabelID:  id,
		Product:  product,
		Customer: customer,
		Verdict:  v,
		Category: product.Category.Label(),
	})
	if err != nil {
		return ReturnLabel{}, err
	}

	return ReturnLabel{
		LabelID:      id,
		ProductID:    productID,
		CustomerID:   customerID,
		Verdict:      v,
		Instructions: text,
		CreatedAt:    g.now().UTC(),
	}, nil
}

type instructionData struct {
	LabelID  string
	Product  catalog.Product
	Customer catalog.Customer
	Verdict  eligibility.Verdict
	Category string
}

var instructionsTmpl = template.Must(template.New("label").Parse(`ETIQUETA DE DEVOLUCIÓN {{.LabelID}}

Producto: {{.Product.Name}} ({{.Product.ID}}), categoría {{.Category}}
Cliente: {{.Customer.Name}} ({{.Customer.ID}})
{{- if .Verdict.DaysElapsed}}
Días transcurridos: {{.Verdict.DaysElapsed}}/{{.Verdict.WindowDays}}
{{- end}}

Instrucciones de empaque:
1. Envuelva el producto en su empaque original si está disponible
2. Incluya todos los accesorios y manuales
3. Use una caja resistente para el envío
4. Pegue esta etiqueta en el exterior del paquete
{{- if .Verdict.HighValue}}
5. Producto de alto valor: será sometido a inspección adicional
{{- end}}

Envío:
Dirección de retorno: EcoTech Returns Center, Calle Verde 123, Ciudad Eco
Código postal: ECO-001
Teléfono: +1-800-ECO-TECH

El reembolso se procesará dentro de 5-7 días hábiles después de recibir el producto.
Consultas: soporte@ecotech.com
Seguimiento: https://ecotech.com/track/{{.LabelID}}
`))

func renderInstructions(d instructionData) (string, error) {
	var buf bytes.Buffer
	if err := instructionsTmpl.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("rendering label instructions: %w", err)
	}
	return buf.String(), nil
}

// newLabelID returns RET-<product>-<12 hex digits>. The suffix is random so
// ids stay unique across restarts of the process.
func newLabelID(productID string) string {
	u := uuid.NewString()
	return fmt.Sprintf("RET-%s-%s", productID, strings.ToUpper(u[len(u)-12:]))
}
