// Package audit implements the Audit Logger (spec §4.13): a buffered,
// per-node sequence-numbered, HMAC-checksummed append-only log with
// configurable destinations (rotating JSON-lines file, syslog, and an
// optional Postgres mirror).
package audit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Entry is one immutable audit record, per spec.md §3's Audit Entry type.
type Entry struct {
	Sequence    uint64         `json:"sequence_number"`
	Timestamp   time.Time      `json:"timestamp"`
	EventType   string         `json:"event_type"`
	PrincipalID string         `json:"principal_id"`
	Details     map[string]any `json:"details,omitempty"`
	Node        string         `json:"node"`
	Checksum    string         `json:"checksum"`
}

// checksum computes the HMAC-SHA256 over e's canonical serialization
// (every field except Checksum itself), hex-encoded, mirroring
// pkg/capability's Signer.Sign shape.
func checksum(secret []byte, e Entry) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(canonicalize(e))
	return fmt.Sprintf("%x", mac.Sum(nil))
}

func canonicalize(e Entry) []byte {
	var buf bytes.Buffer
	writeField(&buf, "sequence_number", fmt.Sprintf("%d", e.Sequence))
	writeField(&buf, "timestamp", e.Timestamp.UTC().Format(time.RFC3339Nano))
	writeField(&buf, "event_type", e.EventType)
	writeField(&buf, "principal_id", e.PrincipalID)
	writeField(&buf, "node", e.Node)

	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		raw, _ := json.Marshal(e.Details[k])
		writeField(&buf, "details."+k, string(raw))
	}
	return buf.Bytes()
}

func writeField(buf *bytes.Buffer, name, value string) {
	buf.WriteString(name)
	buf.WriteByte('=')
	buf.WriteString(value)
	buf.WriteByte('\n')
}

// Mirror is an optional durable sink an audit Logger writes flushed
// entries to in addition to its local file, independent of the local
// file's own rotation/retention.
type Mirror interface {
	InsertEntries(ctx context.Context, entries []Entry) error
}
