package symbols

import (
	"strings"

	"multibroker/internal/models"
)

// fyersIndexAliases maps canonical index names to fyers index symbols.
var fyersIndexAliases = map[string]string{
	"NIFTY 50":   "NIFTY50-INDEX",
	"NIFTY BANK": "NIFTYBANK-INDEX",
	"FINNIFTY":   "FINNIFTY-INDEX",
}

// zerodhaIndexAliases is the inverse mapping back to canonical index names.
var zerodhaIndexAliases = map[string]string{
	"NIFTY50-INDEX":   "NIFTY 50",
	"NIFTYBANK-INDEX": "NIFTY BANK",
	"FINNIFTY-INDEX":  "FINNIFTY",
}

// FyersResolver decorates a canonical symbol for fyers: index names get
// their -INDEX alias, derivatives pass through, equities gain the -EQ
// suffix.
func FyersResolver(canonical string) string {
	exch, sym := splitCanonical(canonical)
	symU := strings.ToUpper(sym)

	if alias, ok := fyersIndexAliases[symU]; ok {
		return exch + ":" + alias
	}
	if isDerivative(symU) || strings.HasSuffix(symU, "-INDEX") {
		return exch + ":" + sym
	}
	if !strings.HasSuffix(symU, "-EQ") {
		return exch + ":" + sym + "-EQ"
	}
	return exch + ":" + sym
}

// ZerodhaResolver undoes fyers-style decoration for zerodha: index aliases
// map back to their exchange names and the -EQ suffix is trimmed.
func ZerodhaResolver(canonical string) string {
	exch, sym := splitCanonical(canonical)
	symU := strings.ToUpper(sym)

	if name, ok := zerodhaIndexAliases[symU]; ok {
		return exch + ":" + name
	}
	if strings.HasSuffix(symU, "-EQ") {
		sym = sym[:len(sym)-3]
	}
	return exch + ":" + sym
}

// isDerivative reports whether a trading symbol names an option or future.
func isDerivative(symU string) bool {
	return strings.HasSuffix(symU, "CE") ||
		strings.HasSuffix(symU, "PE") ||
		strings.Contains(symU, "FUT")
}

func splitCanonical(canonical string) (exchange, symbol string) {
	if !strings.Contains(canonical, ":") {
		return string(models.NSE), canonical
	}
	parts := strings.SplitN(canonical, ":", 2)
	return parts[0], parts[1]
}

// defaultRegistry carries the built-in resolvers. Constructed once at
// package init; callers needing isolation build their own via NewRegistry.
var defaultRegistry = func() *Registry {
	r := NewRegistry()
	r.RegisterResolver("fyers", FyersResolver)
	r.RegisterResolver("zerodha", ZerodhaResolver)
	return r
}()

// Default returns the process-default registry with built-in resolvers.
func Default() *Registry {
	return defaultRegistry
}
