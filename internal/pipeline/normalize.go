package pipeline

import (
	"math"
	"strings"

	"github.com/google/uuid"

	"utiles/internal"
	"utiles/internal/util"
)

// NormalizeItems turns extractor output into supply items of a new version:
// fresh ids, quantity of at least one, unapproved, to be purchased unless the
// list says otherwise. Items without a name are dropped.
func NormalizeItems(raw []internal.RawItem) []internal.SupplyItem {
	out := make([]internal.SupplyItem, 0, len(raw))
	for _, item := range raw {
		name := util.NormalizeSpaces(item.Name)
		if name == "" {
			continue
		}
		qty := 1
		if item.Quantity != nil && *item.Quantity >= 1 {
			qty = int(math.Round(*item.Quantity))
		}
		price := 0.0
		if item.Price != nil && *item.Price > 0 {
			price = *item.Price
		}
		toPurchase := true
		if item.ToPurchase != nil {
			toPurchase = *item.ToPurchase
		}
		out = append(out, internal.SupplyItem{
			ID:          uuid.NewString(),
			Name:        name,
			Quantity:    qty,
			ISBN:        trimmed(item.ISBN),
			Brand:       trimmed(item.Brand),
			ToPurchase:  toPurchase,
			Price:       price,
			Subject:     trimmed(item.Subject),
			Description: trimmed(item.Description),
		})
	}
	return out
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}
