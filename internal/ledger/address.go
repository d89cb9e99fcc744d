package ledger

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"math/big"
)

const xrplAlphabet = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"

const (
	accountIDVersion  byte = 0x00
	familySeedVersion byte = 0x21
)

var ed25519SeedPrefix = []byte{0x01, 0xE1, 0x4B}

var bigRadix = big.NewInt(58)

// EncodeAccountID renders a 20-byte account id as a classic address.
func EncodeAccountID(id []byte) (string, error) {
	if len(id) != 20 {
		return "", fmt.Errorf("account id must be 20 bytes, got %d", len(id))
	}
	return encodeCheck(accountIDVersion, id), nil
}

// DecodeAccountID parses a classic address into its 20-byte account id.
func DecodeAccountID(address string) ([]byte, error) {
	version, payload, err := decodeCheck(address)
	if err != nil {
		return nil, err
	}
	if version != accountIDVersion || len(payload) != 20 {
		return nil, fmt.Errorf("%q is not a classic address", address)
	}
	return payload, nil
}

// EncodeFamilySeed renders 16 bytes of entropy as an "s..." seed.
func EncodeFamilySeed(entropy []byte) (string, error) {
	if len(entropy) != 16 {
		return "", fmt.Errorf("seed entropy must be 16 bytes, got %d", len(entropy))
	}
	return encodeCheck(familySeedVersion, entropy), nil
}

// DecodeFamilySeed returns the 16 bytes of entropy behind an "s..." seed.
func DecodeFamilySeed(seed string) ([]byte, error) {
	version, payload, err := decodeCheck(seed)
	if err != nil {
		return nil, err
	}
	if version != familySeedVersion || len(payload) != 16 {
		return nil, fmt.Errorf("not a family seed")
	}
	return payload, nil
}

// EncodeEd25519Seed renders 16 bytes of entropy as an "sEd..." seed.
func EncodeEd25519Seed(entropy []byte) (string, error) {
	if len(entropy) != 16 {
		return "", fmt.Errorf("seed entropy must be 16 bytes, got %d", len(entropy))
	}
	buf := append(append([]byte{}, ed25519SeedPrefix...), entropy...)
	return encodeBase58(append(buf, checksum(buf)...)), nil
}

// DecodeSeed accepts both seed encodings and reports whether the seed
// derives ed25519 keys.
func DecodeSeed(seed string) (entropy []byte, isEd25519 bool, err error) {
	body, err := decodeChecked(seed)
	if err != nil {
		return nil, false, err
	}
	if len(body) == len(ed25519SeedPrefix)+16 && bytes.HasPrefix(body, ed25519SeedPrefix) {
		return body[len(ed25519SeedPrefix):], true, nil
	}
	if len(body) == 17 && body[0] == familySeedVersion {
		return body[1:], false, nil
	}
	return nil, false, fmt.Errorf("not a seed")
}

func checksum(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:4]
}

func encodeCheck(version byte, payload []byte) string {
	buf := make([]byte, 0, 1+len(payload)+4)
	buf = append(buf, version)
	buf = append(buf, payload...)
	buf = append(buf, checksum(buf)...)
	return encodeBase58(buf)
}

func decodeCheck(s string) (byte, []byte, error) {
	body, err := decodeChecked(s)
	if err != nil {
		return 0, nil, err
	}
	return body[0], body[1:], nil
}

func decodeChecked(s string) ([]byte, error) {
	raw, err := decodeBase58(s)
	if err != nil {
		return nil, err
	}
	if len(raw) < 5 {
		return nil, fmt.Errorf("encoded value too short")
	}
	body, sum := raw[:len(raw)-4], raw[len(raw)-4:]
	if !bytes.Equal(checksum(body), sum) {
		return nil, fmt.Errorf("checksum mismatch")
	}
	return body, nil
}

func encodeBase58(b []byte) string {
	n := new(big.Int).SetBytes(b)
	mod := new(big.Int)
	var out []byte
	for n.Sign() > 0 {
		n.DivMod(n, bigRadix, mod)
		out = append(out, xrplAlphabet[mod.Int64()])
	}
	for _, c := range b {
		if c != 0 {
			break
		}
		out = append(out, xrplAlphabet[0])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

func decodeBase58(s string) ([]byte, error) {
	n := new(big.Int)
	for _, r := range s {
		idx := bytes.IndexRune([]byte(xrplAlphabet), r)
		if idx < 0 {
			return nil, fmt.Errorf("invalid base58 character %q", r)
		}
		n.Mul(n, bigRadix)
		n.Add(n, big.NewInt(int64(idx)))
	}
	decoded := n.Bytes()
	zeros := 0
	for zeros < len(s) && s[zeros] == xrplAlphabet[0] {
		zeros++
	}
	out := make([]byte, zeros+len(decoded))
	copy(out[zeros:], decoded)
	return out, nil
}
