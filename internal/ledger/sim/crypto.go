package sim

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"

	"loanflow/internal/ledger"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // account ids are RIPEMD-160 by definition
)

// Hash prefixes separating the signing domains.
var (
	prefixTxSign       = []byte("STX\x00")
	prefixTxMultiSign  = []byte("SMT\x00")
	prefixTxID         = []byte("TXN\x00")
	prefixCounterparty = []byte("CPS\x00")
)

type keypair struct {
	public  []byte // 33 bytes, 0xED marker then the ed25519 key
	private ed25519.PrivateKey
}

func (k keypair) publicHex() string {
	return strings.ToUpper(hex.EncodeToString(k.public))
}

func (k keypair) address() (string, error) {
	return ledger.EncodeAccountID(accountIDFromPublic(k.public))
}

// keypairFromSeed derives ed25519 keys as the ledger does for "sEd" seeds:
// the private key is the first half of SHA-512 over the seed entropy.
func keypairFromSeed(seed string) (keypair, error) {
	entropy, isEd25519, err := ledger.DecodeSeed(seed)
	if err != nil {
		return keypair{}, err
	}
	if !isEd25519 {
		return keypair{}, fmt.Errorf("only ed25519 seeds are supported")
	}
	priv := ed25519.NewKeyFromSeed(sha512Half(entropy))
	pub := append([]byte{0xED}, priv.Public().(ed25519.PublicKey)...)
	return keypair{public: pub, private: priv}, nil
}

func accountIDFromPublic(pub []byte) []byte {
	sha := sha256.Sum256(pub)
	h := ripemd160.New()
	h.Write(sha[:])
	return h.Sum(nil)
}

func addressFromPublicHex(pubHex string) (string, error) {
	pub, err := hex.DecodeString(pubHex)
	if err != nil || len(pub) != 33 || pub[0] != 0xED {
		return "", fmt.Errorf("unsupported public key %q", pubHex)
	}
	return ledger.EncodeAccountID(accountIDFromPublic(pub))
}

func signData(k keypair, prefix, data []byte) string {
	msg := append(append([]byte{}, prefix...), data...)
	return strings.ToUpper(hex.EncodeToString(ed25519.Sign(k.private, msg)))
}

func verifyData(pubHex, sigHex string, prefix, data []byte) bool {
	pub, err := hex.DecodeString(pubHex)
	if err != nil || len(pub) != 33 || pub[0] != 0xED {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	msg := append(append([]byte{}, prefix...), data...)
	return ed25519.Verify(ed25519.PublicKey(pub[1:]), msg, sig)
}

func sha512Half(parts ...[]byte) []byte {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)[:32]
}

// objectIndex derives a ledger object index from a namespace and key parts.
func objectIndex(space string, parts ...string) string {
	bufs := [][]byte{[]byte(space)}
	for _, p := range parts {
		bufs = append(bufs, []byte{0}, []byte(p))
	}
	return strings.ToUpper(hex.EncodeToString(sha512Half(bufs...)))
}

func accountIndex(address string) string {
	return objectIndex("account", address)
}

func lineIndex(a, b, currency string) string {
	low, high := a, b
	if high < low {
		low, high = high, low
	}
	return objectIndex("line", low, high, currency)
}

func signerListIndex(address string) string {
	return objectIndex("signers", address)
}

func shareIndex(vaultID, holder string) string {
	return objectIndex("share", vaultID, holder)
}
