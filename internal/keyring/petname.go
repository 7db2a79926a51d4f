package keyring

import (
	"strings"

	"github.com/tyler-smith/go-bip39"

	"github.com/gezibash/ocpp-node/pkg/identity"
)

// Petname derives a stable three-word key id from a public key, e.g.
// "leader-monkey-parrot". It returns "unknown" for keys shorter than 16 bytes.
func Petname(pub identity.PublicKey) string {
	b := pub.Bytes
	if len(b) < 16 {
		return "unknown"
	}
	// Compressed secp256k1 keys lead with a parity byte.
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	entropy := make([]byte, 32)
	copy(entropy, b)
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "unknown"
	}
	words := strings.Fields(mnemonic)
	if len(words) < 3 {
		return "unknown"
	}
	return words[0] + "-" + words[1] + "-" + words[2]
}
