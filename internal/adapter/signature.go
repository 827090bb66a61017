package adapter

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holder-rounds/internal/types"
)

const signatureLength = 65

// VerifySignature checks an EIP-191 personal_sign signature against the claimed address.
// The recovery id may be 27/28 or 0/1.
func VerifySignature(message, signature, address string) bool {
	if !types.IsValidAddress(address) {
		return false
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "0x"))
	if err != nil || len(sig) != signatureLength {
		return false
	}

	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return false
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return false
	}

	return strings.EqualFold(crypto.PubkeyToAddress(*pub).Hex(), address)
}
