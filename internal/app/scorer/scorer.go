// Package scorer derives candidate addresses from submitted search results
// and rates them. Derivation is deterministic: the same salt and factory or
// public key always produce the same address, which is what makes server-side
// validation of miner submissions possible.
package scorer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ErrMalformed marks submissions that cannot be derived: bad hex, wrong
// lengths, or an unusable salt/key combination. Callers treat it as a
// per-entry validation failure, not a system error.
var ErrMalformed = errors.New("malformed submission")

const (
	addressLen   = 20
	saltLen      = 32
	publicKeyLen = 64
)

// Derived is the result of a successful derivation.
type Derived struct {
	Address       string // 0x-prefixed lowercase hex
	Score         float64
	Category      string
	Price         int64
	Factory       string // set on the factory path
	PublicKeyBase string // set on the public-key path
}

// Scorer exposes both derivation paths. The concrete implementation is
// stateless; the interface exists so the intake pipeline can be tested with
// synthetic scores.
type Scorer interface {
	FromFactory(salt, factory string) (Derived, error)
	FromPublicKey(salt, publicKey string) (Derived, error)
}

// Keccak is the production Scorer.
type Keccak struct{}

var _ Scorer = Keccak{}

// FromFactory derives the create2-style address for a salt mined against a
// contract factory.
func (Keccak) FromFactory(salt, factory string) (Derived, error) {
	factoryBytes, err := decodeHex(factory, addressLen)
	if err != nil {
		return Derived{}, fmt.Errorf("%w: factory address: %v", ErrMalformed, err)
	}
	saltBytes, err := decodeHex(salt, saltLen)
	if err != nil {
		return Derived{}, fmt.Errorf("%w: salt: %v", ErrMalformed, err)
	}

	buf := make([]byte, 0, 1+addressLen+saltLen)
	buf = append(buf, 0xff)
	buf = append(buf, factoryBytes...)
	buf = append(buf, saltBytes...)

	addr := hexPrefixed(keccak256(buf)[12:])
	score := ScoreAddress(addr)
	return Derived{
		Address:  addr,
		Score:    score.Total,
		Category: score.Category,
		Price:    score.Price,
		Factory:  hexPrefixed(factoryBytes),
	}, nil
}

// FromPublicKey derives the address for a salt mined against a 64-byte
// public key base. The key is normalized (0x-prefixed lowercase hex) and
// returned so callers can register it.
func (Keccak) FromPublicKey(salt, publicKey string) (Derived, error) {
	keyBytes, err := decodeHex(publicKey, publicKeyLen)
	if err != nil {
		return Derived{}, fmt.Errorf("%w: public key: %v", ErrMalformed, err)
	}
	saltBytes, err := decodeHex(salt, saltLen)
	if err != nil {
		return Derived{}, fmt.Errorf("%w: salt: %v", ErrMalformed, err)
	}

	buf := make([]byte, 0, publicKeyLen+saltLen)
	buf = append(buf, keyBytes...)
	buf = append(buf, saltBytes...)

	addr := hexPrefixed(keccak256(buf)[12:])
	score := ScoreAddress(addr)
	return Derived{
		Address:       addr,
		Score:         score.Total,
		Category:      score.Category,
		Price:         score.Price,
		PublicKeyBase: hexPrefixed(keyBytes),
	}, nil
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// decodeHex strips an optional 0x prefix and requires an exact byte length.
func decodeHex(s string, wantLen int) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q", s)
	}
	if len(b) != wantLen {
		return nil, fmt.Errorf("expected %d bytes, got %d", wantLen, len(b))
	}
	return b, nil
}

func hexPrefixed(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
