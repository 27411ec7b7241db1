// Package symbols canonicalizes instrument identifiers and translates
// between the canonical form and each broker's native form.
//
// Canonical format: "<EXCHANGE>:<TRADINGSYMBOL>" (e.g. "NSE:RELIANCE").
package symbols

import (
	"strings"
	"sync"

	"multibroker/internal/models"
)

// Resolver translates a canonical symbol into a broker-native symbol.
// Resolvers are per-broker pure functions; decoration rules differ
// incompatibly between brokers so each must be independently testable.
type Resolver func(canonical string) string

// Registry is the single source of truth for canonical symbol form and for
// bidirectional translation to/from each broker's native form. Translation
// is permissive: unmapped symbols pass through unchanged rather than
// erroring.
type Registry struct {
	mu         sync.RWMutex
	toBroker   map[string]map[string]string
	fromBroker map[string]map[string]string
	resolvers  map[string]Resolver
}

// NewRegistry creates an empty symbol registry.
func NewRegistry() *Registry {
	return &Registry{
		toBroker:   make(map[string]map[string]string),
		fromBroker: make(map[string]map[string]string),
		resolvers:  make(map[string]Resolver),
	}
}

// RegisterMapping installs a static canonical-to-native table for a broker
// along with its inverse.
func (r *Registry) RegisterMapping(broker string, canonicalToNative map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	broker = strings.ToLower(broker)
	to := make(map[string]string, len(canonicalToNative))
	from := make(map[string]string, len(canonicalToNative))
	for k, v := range canonicalToNative {
		to[k] = v
		from[v] = k
	}
	r.toBroker[broker] = to
	r.fromBroker[broker] = from
}

// RegisterResolver installs a per-broker translation function. A resolver
// takes precedence over any static mapping table.
func (r *Registry) RegisterResolver(broker string, fn Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[strings.ToLower(broker)] = fn
}

// ToBrokerSymbol translates a canonical symbol into the broker's native
// form: resolver first, then static table, then passthrough.
func (r *Registry) ToBrokerSymbol(broker, canonical string) string {
	broker = strings.ToLower(broker)

	r.mu.RLock()
	fn, ok := r.resolvers[broker]
	r.mu.RUnlock()
	if ok {
		return fn(canonical)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if native, ok := r.toBroker[broker][canonical]; ok {
		return native
	}
	return canonical
}

// FromBrokerSymbol translates a broker-native symbol back to canonical
// form via the inverse static table, falling back to Normalize.
func (r *Registry) FromBrokerSymbol(broker, native string) string {
	r.mu.RLock()
	canonical, ok := r.fromBroker[strings.ToLower(broker)][native]
	r.mu.RUnlock()
	if ok {
		return canonical
	}
	return Normalize(native)
}

// Normalize converts any symbol string into canonical form. It is pure,
// total and idempotent: malformed input degrades to a best-effort canonical
// form rather than erroring. Broker decoration suffixes ("-EQ", "-STOCK")
// are stripped; a missing exchange defaults to NSE.
func Normalize(symbol string) string {
	exchange := string(models.NSE)
	s := strings.TrimSpace(symbol)
	if strings.Contains(s, ":") {
		parts := strings.SplitN(s, ":", 2)
		exchange = strings.ToUpper(strings.TrimSpace(parts[0]))
		s = strings.TrimSpace(parts[1])
	} else {
		s = strings.ToUpper(s)
	}
	for {
		s = strings.TrimSpace(s)
		if strings.HasSuffix(s, "-EQ") {
			s = s[:len(s)-3]
			continue
		}
		if strings.HasSuffix(s, "-STOCK") {
			s = s[:len(s)-6]
			continue
		}
		break
	}
	return exchange + ":" + s
}
