package capability

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Signer signs and verifies capabilities with a server-held HMAC-SHA256
// secret, grounded on the trust-gated token broker's sign/verify split
// (other_examples' ocx-backend-go-svc token_broker.go): a single secret,
// constant-time comparison, no third-party crypto library improves on
// stdlib HMAC for this.
type Signer struct {
	secret []byte
}

// NewSigner constructs a Signer from a raw secret. The secret is typically
// read from SECURITY_SIGNING_SECRET by the owning Security Kernel.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign computes the HMAC-SHA256 signature over the canonical serialization
// of every field of c except Signature itself, base16-encoded.
func (s *Signer) Sign(c *Capability) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(canonicalize(c))
	return fmt.Sprintf("%x", mac.Sum(nil))
}

// Verify reports whether c.Signature matches the recomputed signature,
// using a constant-time comparison to avoid timing side channels.
func (s *Signer) Verify(c *Capability) bool {
	if c.Signature == "" {
		return false
	}
	expected := s.Sign(c)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(c.Signature)) == 1
}

// canonicalize produces a deterministic byte serialization of a capability's
// signed fields: stable key ordering, no dependency on map iteration order,
// so signing the same logical capability twice is bit-identical across
// processes.
func canonicalize(c *Capability) []byte {
	var buf bytes.Buffer

	writeField(&buf, "id", c.ID)
	writeField(&buf, "resource_type", string(c.ResourceType))
	writeField(&buf, "principal_id", c.PrincipalID)
	writeField(&buf, "parent_id", c.ParentID)
	writeField(&buf, "issued_at", c.IssuedAt.UTC().Format(time.RFC3339Nano))
	writeField(&buf, "delegation_depth", strconv.Itoa(c.DelegationDepth))
	writeField(&buf, "revoked", strconv.FormatBool(c.Revoked))

	if c.ExpiresAt != nil {
		writeField(&buf, "expires_at", c.ExpiresAt.UTC().Format(time.RFC3339Nano))
	} else {
		writeField(&buf, "expires_at", "")
	}

	canonicalizeConstraints(&buf, c.Constraints)

	return buf.Bytes()
}

func canonicalizeConstraints(buf *bytes.Buffer, c Constraints) {
	writeSortedList(buf, "operations", c.Operations)
	writeSortedList(buf, "paths", c.Paths)
	writeSortedList(buf, "allowed_tools", c.AllowedTools)
	writeSortedList(buf, "allowed_extensions", c.AllowedExtensions)

	if c.MaxDelegations != nil {
		if c.MaxDelegations.Unlimited {
			writeField(buf, "max_delegations", "unlimited")
		} else {
			writeField(buf, "max_delegations", strconv.Itoa(c.MaxDelegations.Count))
		}
	} else {
		writeField(buf, "max_delegations", "")
	}

	if c.ExpiresAt != nil {
		writeField(buf, "constraint_expires_at", c.ExpiresAt.UTC().Format(time.RFC3339Nano))
	} else {
		writeField(buf, "constraint_expires_at", "")
	}

	writeField(buf, "max_file_size", strconv.FormatInt(c.MaxFileSize, 10))
	writeField(buf, "rate_limit", strconv.Itoa(c.RateLimit))
	writeField(buf, "time_window", c.TimeWindow)

	keys := make([]string, 0, len(c.Unknown))
	for k := range c.Unknown {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField(buf, "unknown."+k, c.Unknown[k])
	}
}

func writeField(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteByte('=')
	buf.WriteString(value)
	buf.WriteByte(';')
}

func writeSortedList(buf *bytes.Buffer, key string, values []string) {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	writeField(buf, key, strings.Join(sorted, ","))
}
