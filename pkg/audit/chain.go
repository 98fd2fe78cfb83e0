package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Entry is one audited ERP write operation. Chain fields are filled by the
// store on append.
type Entry struct {
	EventID    string         `json:"event_id"`
	Tenant     string         `json:"tenant"`
	Model      string         `json:"model"`
	Method     string         `json:"method"`
	RecordIDs  []int64        `json:"record_ids,omitempty"`
	Values     map[string]any `json:"values,omitempty"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	ReceivedAt time.Time      `json:"received_at"`

	Hash     string `json:"hash,omitempty"`
	PrevHash string `json:"prev_hash,omitempty"`
}

// Entry status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// canonicalEntry is the hashed representation of an entry: every field the
// caller controls, none of the chain or storage metadata.
func canonicalEntry(e *Entry) ([]byte, error) {
	return CanonicalJSON(map[string]any{
		"event_id":    e.EventID,
		"tenant":      e.Tenant,
		"model":       e.Model,
		"method":      e.Method,
		"record_ids":  e.RecordIDs,
		"values":      e.Values,
		"status":      e.Status,
		"error":       e.Error,
		"duration_ms": e.DurationMS,
	})
}

// ChainHash computes the next hash in a tenant's chain.
//
//	hash = SHA-256( prevHash || canonicalEntry )
func ChainHash(prevHash string, canon []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil))
}

// ChainEvent is the minimal shape needed for verification: the stored hash
// plus the exact canonical bytes it was computed over.
type ChainEvent struct {
	EventID string
	Hash    string
	Canon   []byte
}

// VerifyChain checks every link of a tenant's full chain, oldest first.
func VerifyChain(events []ChainEvent) error {
	return VerifyChainFrom("", events)
}

// VerifyChainFrom verifies a chain segment given the hash preceding it, so
// auditors can resume from a checkpoint instead of rereading the full trail.
func VerifyChainFrom(prev string, events []ChainEvent) error {
	for i, ev := range events {
		expected := ChainHash(prev, ev.Canon)
		if ev.Hash != expected {
			return fmt.Errorf("chain broken at index %d (event %s): expected %s, got %s",
				i, ev.EventID, expected, ev.Hash)
		}
		prev = ev.Hash
	}
	return nil
}
