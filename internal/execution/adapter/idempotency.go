package adapter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"alpha-core/internal/featuretypes"
)

// GenerateClientOrderID builds the idempotency key
// hash(signal_row_id|ts_ms|side|qty|price)[:32], grounded on
// original_source/executors/idempotency.py's generate_idempotent_key.
// Quantity and price are formatted to 8 decimal places first so float
// noise never changes the hash for what is logically the same order.
func GenerateClientOrderID(signalRowID string, tsMs int64, side featuretypes.Side, qty, price float64) string {
	raw := fmt.Sprintf("%s|%d|%s|%.8f|%.8f", signalRowID, tsMs, side, qty, price)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:32]
}
