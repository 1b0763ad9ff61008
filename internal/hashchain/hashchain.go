// Package hashchain provides the hash primitive and canonical encodings for the
// tamper-evident attendance ledger. Construction and verification must share these
// byte-for-byte: any divergence makes every record look tampered.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Digest returns the lowercase hex SHA-256 of s.
func Digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// CanonicalTimestamp renders t as ISO-8601 UTC with millisecond precision and a
// trailing Z. This is the published on-chain timestamp format; two encodings of the
// same instant that differ in a single byte produce different record hashes.
func CanonicalTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// RecordPayload builds the canonical string a record hash commits to. The key order
// and absence of whitespace are part of the format. Distance, user name and email are
// deliberately outside the payload; tampering with them is not detectable.
func RecordPayload(userID, sessionID string, ts time.Time, prevHash string) string {
	return `{"userId":` + quote(userID) +
		`,"sessionId":` + quote(sessionID) +
		`,"timestamp":` + quote(CanonicalTimestamp(ts)) +
		`,"prevHash":` + quote(prevHash) + `}`
}

// RecordHash computes the chain hash for one record.
func RecordHash(userID, sessionID string, ts time.Time, prevHash string) string {
	return Digest(RecordPayload(userID, sessionID, ts, prevHash))
}

// GenesisHash derives the seed hash for a session with no records yet.
// Format: "genesis:<name>:<canonical createdAt>".
func GenesisHash(name string, createdAt time.Time) string {
	return Digest("genesis:" + name + ":" + CanonicalTimestamp(createdAt))
}

// Proof binds an offline check-in to its session, user, moment, position and entered
// code. It is captured for later verification and is not currently checked at sync.
func Proof(sessionID, userID string, ts time.Time, lat, lng float64, code string) string {
	return Digest(sessionID + ":" + userID + ":" + CanonicalTimestamp(ts) + ":" +
		formatCoord(lat) + ":" + formatCoord(lng) + ":" + code)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func quote(s string) string {
	return strconv.Quote(s)
}
