package services

import (
	"math"
	"strings"

	domain "github.com/repairdesk/api/internal/domain"
	"github.com/repairdesk/api/internal/platform/textutil"
)

const (
	// DefaultTaxRateBps is the flat 16% tax applied to every budget subtotal.
	DefaultTaxRateBps int64 = 1600

	bpsDenominator         int64 = 10000
	maxBudgetLines               = 200
	maxLineDescriptionRune       = 240
)

// CalculateBudget prices the requested lines and derives subtotal, tax and final total. Part lines
// must reference a product in catalog; a missing unit price or description on a part line falls back
// to the catalog values. discount is clamped to subtotal + tax.
func CalculateBudget(ticketID string, inputs []BudgetLineInput, catalog map[string]Product, taxRateBps int64, discount int64) (Budget, error) {
	if len(inputs) == 0 {
		return Budget{}, &LineItemError{Position: 0, Reason: "at least one line is required"}
	}
	if len(inputs) > maxBudgetLines {
		return Budget{}, &LineItemError{Position: maxBudgetLines + 1, Reason: "too many lines"}
	}
	if taxRateBps < 0 {
		taxRateBps = DefaultTaxRateBps
	}

	lines := make([]BudgetLine, 0, len(inputs))
	var subtotal int64
	for i, input := range inputs {
		position := i + 1
		line, err := priceLine(position, input, catalog)
		if err != nil {
			return Budget{}, err
		}
		if line.LineTotal > 0 && subtotal > math.MaxInt64-line.LineTotal {
			return Budget{}, &LineItemError{Position: position, Reason: "budget total overflows"}
		}
		subtotal += line.LineTotal
		lines = append(lines, line)
	}

	tax, ok := applyRate(subtotal, taxRateBps)
	if !ok || subtotal > math.MaxInt64-tax {
		return Budget{}, &LineItemError{Position: len(inputs), Reason: "budget total overflows"}
	}

	budget := withDiscount(Budget{
		TicketID:   ticketID,
		Lines:      lines,
		Subtotal:   subtotal,
		TaxRateBps: taxRateBps,
		Tax:        tax,
	}, discount)
	budget.Approved = false
	budget.Paid = false
	return budget, nil
}

func priceLine(position int, input BudgetLineInput, catalog map[string]Product) (BudgetLine, error) {
	if input.Quantity <= 0 {
		return BudgetLine{}, &LineItemError{Position: position, Reason: "quantity must be greater than zero"}
	}

	description := textutil.SanitizePlain(input.Description, maxLineDescriptionRune)
	line := BudgetLine{
		Position: position,
		Kind:     domain.BudgetLineKindExtra,
		Quantity: input.Quantity,
	}

	var unitPrice int64
	switch {
	case input.ProductID != nil && strings.TrimSpace(*input.ProductID) != "":
		productID := strings.TrimSpace(*input.ProductID)
		product, ok := catalog[productID]
		if !ok {
			return BudgetLine{}, &LineItemError{Position: position, Reason: "unknown product " + productID}
		}
		line.Kind = domain.BudgetLineKindPart
		line.ProductID = &productID
		unitPrice = product.Price
		if input.UnitPrice != nil {
			unitPrice = *input.UnitPrice
		}
		if description == "" {
			description = product.Name
		}
	default:
		if input.UnitPrice == nil {
			return BudgetLine{}, &LineItemError{Position: position, Reason: "unit price is required for extra concepts"}
		}
		unitPrice = *input.UnitPrice
		if description == "" {
			return BudgetLine{}, &LineItemError{Position: position, Reason: "description is required for extra concepts"}
		}
	}

	if unitPrice < 0 {
		return BudgetLine{}, &LineItemError{Position: position, Reason: "unit price must not be negative"}
	}
	if unitPrice > 0 && input.Quantity > math.MaxInt64/unitPrice {
		return BudgetLine{}, &LineItemError{Position: position, Reason: "line total overflows"}
	}

	line.Description = description
	line.UnitPrice = unitPrice
	line.LineTotal = unitPrice * input.Quantity
	return line, nil
}

// withDiscount sets the discount clamped to [0, subtotal+tax] and recomputes the final total.
func withDiscount(budget Budget, discount int64) Budget {
	gross := budget.Subtotal + budget.Tax
	if discount < 0 {
		discount = 0
	}
	if discount > gross {
		discount = gross
	}
	budget.Discount = discount
	budget.TotalFinal = gross - discount
	budget.Paid = derivePaid(budget)
	return budget
}

func derivePaid(budget Budget) bool {
	return budget.TotalPaid >= budget.TotalFinal
}

// applyRate returns amount × bps / 10000 rounded half-up. ok is false on overflow.
func applyRate(amount int64, bps int64) (int64, bool) {
	if amount <= 0 || bps <= 0 {
		return 0, true
	}
	if amount > math.MaxInt64/bps {
		return 0, false
	}
	return (amount*bps + bpsDenominator/2) / bpsDenominator, true
}

// consumedPartsFromLines aggregates stock-relevant lines per product, preserving first-seen order.
// Free-text extras never produce consumed parts.
func consumedPartsFromLines(lines []BudgetLine) []ConsumedPart {
	index := make(map[string]int, len(lines))
	parts := make([]ConsumedPart, 0, len(lines))
	for _, line := range lines {
		if line.Kind != domain.BudgetLineKindPart || line.ProductID == nil {
			continue
		}
		id := *line.ProductID
		if i, ok := index[id]; ok {
			parts[i].Quantity += line.Quantity
			parts[i].LineTotal += line.LineTotal
			continue
		}
		index[id] = len(parts)
		parts = append(parts, ConsumedPart{
			ProductID: id,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
		})
	}
	return parts
}

func productIDsFromInputs(inputs []BudgetLineInput) []string {
	seen := make(map[string]struct{}, len(inputs))
	ids := make([]string, 0, len(inputs))
	for _, input := range inputs {
		if input.ProductID == nil {
			continue
		}
		id := strings.TrimSpace(*input.ProductID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
