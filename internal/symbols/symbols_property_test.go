package symbols

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: canonicalization is idempotent: normalizing an already-canonical
// symbol yields the same value for any input string.
func TestProperty_NormalizeIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("Normalize(Normalize(s)) == Normalize(s)", prop.ForAll(
		func(s string) bool {
			once := Normalize(s)
			return Normalize(once) == once
		},
		gen.AnyString(),
	))

	properties.Property("idempotent for alphanumeric symbols with suffixes", prop.ForAll(
		func(sym string, suffix string) bool {
			once := Normalize("NSE:" + sym + suffix)
			return Normalize(once) == once
		},
		gen.AlphaString(),
		gen.OneConstOf("", "-EQ", "-STOCK", "-INDEX"),
	))

	properties.TestingRun(t)
}

// Property: for non-derivative equities, translating canonical to the fyers
// native form and back through the zerodha resolver restores the canonical
// symbol (the two resolvers are inverses over the equity universe).
func TestProperty_EquityResolverRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	equities := []string{"RELIANCE", "TCS", "INFY", "SBIN", "HDFCBANK", "ICICIBANK", "WIPRO"}

	properties.Property("ZerodhaResolver(FyersResolver(s)) == s for equities", prop.ForAll(
		func(sym string) bool {
			canonical := Normalize("NSE:" + sym)
			native := FyersResolver(canonical)
			return ZerodhaResolver(native) == canonical
		},
		gen.OneConstOf(equities[0], equities[1], equities[2], equities[3], equities[4], equities[5], equities[6]),
	))

	properties.TestingRun(t)
}
