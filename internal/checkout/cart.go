package checkout

import (
	"math"
	"strings"

	"github.com/jogardn/agrimarket/internal/apperr"
	"github.com/jogardn/agrimarket/pkg/models"
)

// mergeLines validates every line and folds repeated products into the
// first occurrence.
func mergeLines(lines []models.CartLine) ([]models.CartLine, error) {
	merged := make([]models.CartLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	for i, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return nil, apperr.Validation(apperr.CodeInvalidRequest, "item %d: product_id is required", i+1)
		}
		if line.Qty <= 0 {
			return nil, apperr.Validation(apperr.CodeInvalidRequest, "item %d: qty must be a positive integer", i+1)
		}
		if at, ok := index[id]; ok {
			if line.Qty > math.MaxInt-merged[at].Qty {
				return nil, apperr.Validation(apperr.CodeInvalidRequest, "item %d: combined qty for %s is too large", i+1, id)
			}
			merged[at].Qty += line.Qty
			continue
		}
		index[id] = len(merged)
		merged = append(merged, models.CartLine{ProductID: id, Qty: line.Qty})
	}
	return merged, nil
}

func productIDs(lines []models.CartLine) []string {
	ids := make([]string, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}
	return ids
}
