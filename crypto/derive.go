package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const derivedMarker = "DerivedAddress"

// ErrNoDerivedAddress is returned when no bump yields an off-curve point.
var ErrNoDerivedAddress = errors.New("no off-curve derived address found")

// ErrOnCurve is returned by CreateDerivedAddress when the digest is a valid
// ed25519 point, i.e. a key could exist for it.
var ErrOnCurve = errors.New("derived address is on the ed25519 curve")

// FindDerivedAddress searches bumps from 255 downward and returns the first
// address that is not a valid ed25519 point, together with its bump. Nobody
// holds a private key for such an address, so only code that knows the seeds
// can move funds out of it.
func FindDerivedAddress(owner []byte, seeds ...[]byte) (string, uint8, error) {
	for bump := 255; bump > 0; bump-- {
		addr, err := CreateDerivedAddress(owner, uint8(bump), seeds...)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return "", 0, err
		}
	}
	return "", 0, ErrNoDerivedAddress
}

// CreateDerivedAddress derives the address for a known bump.
func CreateDerivedAddress(owner []byte, bump uint8, seeds ...[]byte) (string, error) {
	h := sha256.New()
	for _, s := range seeds {
		if len(s) > 32 {
			return "", fmt.Errorf("seed of %d bytes exceeds 32", len(s))
		}
		h.Write(s)
	}
	h.Write([]byte{bump})
	h.Write(owner)
	h.Write([]byte(derivedMarker))
	sum := h.Sum(nil)

	if isOnCurve(sum) {
		return "", ErrOnCurve
	}
	return hex.EncodeToString(sum), nil
}

// IsOnCurve reports whether the hex address decodes to a valid ed25519 point.
func IsOnCurve(addrHex string) bool {
	b, err := hex.DecodeString(addrHex)
	if err != nil {
		return false
	}
	return isOnCurve(b)
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// ShortID renders a hex address as a short base58 label for logs and RPC
// listings. It is display only and never parsed back.
func ShortID(addrHex string) string {
	b, err := hex.DecodeString(addrHex)
	if err != nil || len(b) == 0 {
		return addrHex
	}
	s := base58.Encode(b)
	if len(s) > 8 {
		return s[:4] + ".." + s[len(s)-4:]
	}
	return s
}
