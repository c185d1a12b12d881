package orchestrator

import (
	"fmt"
	"strings"

	"github.com/kalambet/ecoreturns/internal/answer"
	"github.com/kalambet/ecoreturns/internal/eligibility"
	"github.com/kalambet/ecoreturns/internal/label"
)

var argDescriptions = map[string]string{
	ArgQuery:        "tu consulta",
	ArgProductID:    "el código de producto (por ejemplo PROD001)",
	ArgCustomerID:   "el código de cliente (por ejemplo CLI001)",
	ArgPurchaseDate: "la fecha de compra en formato AAAA-MM-DD",
}

func renderOrchestratorFailure(reason string, missing []string) string {
	switch reason {
	case ReasonMissingArguments:
		parts := make([]string, 0, len(missing))
		for _, m := range missing {
			if d, ok := argDescriptions[m]; ok {
				parts = append(parts, d)
			} else {
				parts = append(parts, m)
			}
		}
		return "Necesito más información para ayudarte. Falta " + joinSpanish(parts) + ". " +
			"Por ejemplo: \"¿Puedo devolver PROD001 comprado el 2024-05-10?\""
	case ReasonStepLimitExceeded:
		return "No pude completar tu solicitud dentro del número máximo de pasos permitidos. " +
			"Intenta reformular la consulta o divídela en preguntas más simples."
	default:
		return "Ocurrió un problema al procesar tu solicitud. Intenta de nuevo más tarde."
	}
}

func joinSpanish(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " y " + items[len(items)-1]
}

func renderResult(inv Invocation) string {
	switch r := inv.Result.(type) {
	case eligibility.Verdict:
		return renderVerdict(r)
	case label.ReturnLabel:
		return fmt.Sprintf("Etiqueta de devolución generada: %s\n\n%s", r.LabelID, r.Instructions)
	case answer.Answer:
		return r.Text
	}
	return ""
}

func renderInvocationFailure(inv Invocation) string {
	switch r := inv.Result.(type) {
	case eligibility.Verdict:
		return renderVerdict(r)
	case *label.Error:
		return renderLabelError(r)
	}
	switch inv.Reason {
	case string(eligibility.ReasonInvalidDate):
		return renderVerdict(eligibility.Verdict{Reason: eligibility.ReasonInvalidDate})
	case ReasonMissingArguments:
		return renderOrchestratorFailure(ReasonMissingArguments, inv.Capability.Required())
	case ReasonUnknownCapability:
		return fmt.Sprintf("La operación %q no está disponible.", inv.Capability)
	}
	return renderOrchestratorFailure(inv.Reason, nil)
}

func productName(v eligibility.Verdict) string {
	if v.ProductName == "" {
		return v.ProductID
	}
	return fmt.Sprintf("%s (%s)", v.ProductName, v.ProductID)
}

func renderVerdict(v eligibility.Verdict) string {
	switch v.Reason {
	case eligibility.ReasonWithinWindow:
		var b strings.Builder
		fmt.Fprintf(&b, "El producto %s es elegible para devolución. ", productName(v))
		fmt.Fprintf(&b, "Han pasado %d de %d días del plazo de %s; te quedan %d días.",
			v.DaysElapsed, v.WindowDays, v.Category.Label(), v.WindowDays-v.DaysElapsed)
		if v.NearDeadline {
			b.WriteString("\nAtención: el plazo de devolución está por vencer.")
		}
		if v.HighValue {
			b.WriteString("\nPor su valor, el producto pasará por una inspección adicional.")
		}
		return b.String()
	case eligibility.ReasonExpired:
		return fmt.Sprintf("El producto %s no es elegible para devolución: la compra fue hace %d días "+
			"y el plazo para %s es de %d días.", productName(v), v.DaysElapsed, v.Category.Label(), v.WindowDays)
	case eligibility.ReasonCategoryExcluded:
		return fmt.Sprintf("El producto %s no admite devolución según nuestra política "+
			"(productos personalizados, de higiene personal, con licencia activada o de venta final).", productName(v))
	case eligibility.ReasonProductNotFound:
		return fmt.Sprintf("No encontramos el producto %s en nuestro catálogo.", v.ProductID)
	case eligibility.ReasonInvalidDate:
		return "La fecha de compra no es válida. Usa el formato AAAA-MM-DD y una fecha que no sea futura."
	}
	return ""
}

func renderLabelError(e *label.Error) string {
	switch e.Kind {
	case label.KindCustomerNotFound:
		return fmt.Sprintf("No encontramos al cliente %s, así que no se pudo generar la etiqueta.", e.ID)
	case label.KindProductNotFound:
		return fmt.Sprintf("No encontramos el producto %s en nuestro catálogo.", e.ID)
	}
	msg := fmt.Sprintf("No se puede generar la etiqueta: el producto %s no es elegible para devolución", e.ID)
	switch e.Reason {
	case eligibility.ReasonExpired:
		return msg + " porque el plazo de devolución ya venció."
	case eligibility.ReasonCategoryExcluded:
		return msg + " según nuestra política de exclusiones."
	case eligibility.ReasonInvalidDate:
		return msg + " porque la fecha de compra no es válida."
	}
	return msg + "."
}
