package tree

import (
	"branchchat/internal/storage"
)

// charsPerToken is a rough character-per-token conversion. Deliberately
// approximate; the budget contract is about newest-first greedy inclusion,
// not tokenizer parity.
const charsPerToken = 4

// Truncate bounds a root-first path to budgetTokens token-equivalents,
// walking from the newest message backward and including messages while the
// running character total fits. The result is a contiguous suffix of the
// input, still in root-first order.
func Truncate(path []storage.Message, budgetTokens int) []storage.Message {
	budget := budgetTokens * charsPerToken
	total := 0

	kept := len(path)
	for i := len(path) - 1; i >= 0; i-- {
		size := len(path[i].Content)
		if total+size > budget {
			break
		}
		total += size
		kept = i
	}
	return path[kept:]
}
