package types

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: NormalizeAddress is idempotent and preserves validity
func TestNormalizeAddressProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	const alphabet = "0123456789abcdefABCDEF"
	hexAddress := gen.SliceOfN(40, gen.IntRange(0, len(alphabet)-1)).Map(func(idx []int) string {
		var b strings.Builder
		b.WriteString("0x")
		for _, i := range idx {
			b.WriteByte(alphabet[i])
		}
		return b.String()
	})

	properties.Property("normalization is idempotent", prop.ForAll(
		func(addr string) bool {
			once := NormalizeAddress(addr)
			return NormalizeAddress(once) == once
		},
		hexAddress,
	))

	properties.Property("normalized addresses stay valid", prop.ForAll(
		func(addr string) bool {
			return IsValidAddress(addr) && IsValidAddress(NormalizeAddress(addr))
		},
		hexAddress,
	))

	properties.TestingRun(t)
}
