package ai

import (
	"github.com/charlalabs/charla-gateway/internal/adapter/ai/tokencount"
	"github.com/charlalabs/charla-gateway/internal/domain"
)

// TrimToTokenBudget drops the oldest transcript entries until the remainder
// fits inside budget tokens under the model's encoding. A budget <= 0
// disables trimming. The newest entries always survive.
func TrimToTokenBudget(history []domain.Message, model string, budget int) []domain.Message {
	if budget <= 0 || len(history) == 0 {
		return history
	}
	total := 0
	counts := make([]int, len(history))
	for i, m := range history {
		counts[i] = tokencount.CountTokensDefault(m.Text, model) + 4 // role/message framing overhead
		total += counts[i]
	}
	start := 0
	for start < len(history)-1 && total > budget {
		total -= counts[start]
		start++
	}
	return history[start:]
}
