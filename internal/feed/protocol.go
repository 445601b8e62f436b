// Package feed ingests signed observation reports from headless game
// clients over QUIC.
package feed

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"parallax/internal/observation"
)

const (
	// alpnProtocol is the ALPN protocol identifier.
	alpnProtocol = "parallax/1"

	// maxFrameSize is the maximum allowed frame size. Hello and report
	// frames are small; anything near this limit is hostile.
	maxFrameSize = 64 << 10

	// lengthPrefixSize is the size of the length prefix in bytes.
	lengthPrefixSize = 4
)

// Hello is the first frame on a feed session. It binds the connection
// to one observer; every later report must carry the same observer ID
// and verify against the same key.
type Hello struct {
	ObserverID string      `json:"observerId"`
	PubKey     string      `json:"pubkey"`             // hex-encoded ed25519 public key
	Position   *[3]float64 `json:"position,omitempty"` // observer world position, if known
}

// Report carries one signed observation. Sig is an ed25519 signature
// over the blake3 digest of the observation's canonical bytes.
type Report struct {
	Observation observation.Wire `json:"observation"`
	Sig         string           `json:"sig"` // hex-encoded signature
}

// Digest returns the signing digest for an observation: the blake3 hash
// of its canonical bytes as transmitted, before normalization. Both the
// feeder and the listener compute it on the same untouched fields, so
// the signature survives the JSON round trip.
func Digest(o observation.Observation) [32]byte {
	return blake3.Sum256(o.CanonicalBytes())
}

// WriteFrame writes a length-prefixed frame to the writer.
// Format: [4 bytes big-endian length] [payload]
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame too large: %d > %d", len(data), maxFrameSize)
	}

	var lengthBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))

	if _, err := w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	return nil
}

// ReadFrame reads a length-prefixed frame from the reader.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lengthBuf [lengthPrefixSize]byte

	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])

	if length > maxFrameSize {
		return nil, fmt.Errorf("frame too large: %d > %d", length, maxFrameSize)
	}

	data := make([]byte, length)

	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	return data, nil
}
