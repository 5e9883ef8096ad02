package keymanager

import (
	"encoding/base64"
	"encoding/binary"
)

// JWK is a single JSON Web Key entry per RFC 7517, restricted to the RSA
// public-key fields this system exports.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is the `{ "keys": [...] }` document served at the
// `/.well-known/jwks.json` endpoint.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWKS exports every currently published verification key as a JWKS
// document, base64url-encoded per RFC 7517.
func (m *Manager) JWKS() JWKS {
	keys := m.AllPublicKeys()
	out := JWKS{Keys: make([]JWK, 0, len(keys))}
	for kid, pub := range keys {
		out.Keys = append(out.Keys, JWK{
			Kty: "RSA",
			Kid: kid,
			Use: "sig",
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(encodeExponent(pub.E)),
		})
	}
	return out
}

func encodeExponent(e int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(e))
	i := 0
	for i < len(buf)-1 && buf[i] == 0 {
		i++
	}
	return buf[i:]
}
