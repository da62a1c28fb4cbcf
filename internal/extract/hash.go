package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/zeebo/blake3"
)

// Hash algorithms accepted by Hasher
const (
	AlgorithmSHA256 = "sha256"
	AlgorithmBLAKE3 = "blake3"
)

// ErrHashUnavailable is returned when a hash primitive cannot be constructed.
// It is an infrastructure failure, not a property of the input.
var ErrHashUnavailable = eris.New("hash algorithm unavailable")

// ComputeContentHash returns the hex SHA-256 digest of the exact bytes of text
func ComputeContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Hasher computes content digests with a configurable algorithm
type Hasher struct {
	algorithm string
}

// NewHasher creates a hasher; an empty algorithm means SHA-256
func NewHasher(algorithm string) *Hasher {
	algorithm = strings.ToLower(strings.TrimSpace(algorithm))
	if algorithm == "" {
		algorithm = AlgorithmSHA256
	}
	return &Hasher{algorithm: algorithm}
}

// Algorithm returns the configured algorithm name
func (h *Hasher) Algorithm() string {
	return h.algorithm
}

// Sum returns the digest of text. SHA-256 digests are bare hex for
// compatibility; other algorithms are prefixed with "<algorithm>:".
func (h *Hasher) Sum(text string) (string, error) {
	if h.algorithm == AlgorithmSHA256 {
		return ComputeContentHash(text), nil
	}

	hh, err := h.newHash()
	if err != nil {
		return "", err
	}
	_, _ = hh.Write([]byte(text))
	return h.algorithm + ":" + hex.EncodeToString(hh.Sum(nil)), nil
}

func (h *Hasher) newHash() (hash.Hash, error) {
	switch h.algorithm {
	case AlgorithmSHA256:
		return sha256.New(), nil
	case AlgorithmBLAKE3:
		return blake3.New(), nil
	default:
		return nil, eris.Wrapf(ErrHashUnavailable, "extract: algorithm %q", h.algorithm)
	}
}
