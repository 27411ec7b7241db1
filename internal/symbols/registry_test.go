package symbols

import (
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain symbol defaults to NSE", "RELIANCE", "NSE:RELIANCE"},
		{"already canonical", "NSE:RELIANCE", "NSE:RELIANCE"},
		{"lowercase exchange uppercased", "nse:RELIANCE", "NSE:RELIANCE"},
		{"equity suffix stripped", "NSE:SBIN-EQ", "NSE:SBIN"},
		{"equity suffix stripped without exchange", "SBIN-EQ", "NSE:SBIN"},
		{"stock suffix stripped without exchange", "tcs-stock", "NSE:TCS"},
		{"stock suffix stripped", "BSE:TCS-STOCK", "BSE:TCS"},
		{"whitespace trimmed", " INFY ", "NSE:INFY"},
		{"bse passthrough", "BSE:500325", "BSE:500325"},
		{"derivative untouched", "NFO:NIFTY24DECFUT", "NFO:NIFTY24DECFUT"},
		{"empty input degrades", "", "NSE:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFyersResolver(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"NSE:SBIN", "NSE:SBIN-EQ"},
		{"NSE:INFY", "NSE:INFY-EQ"},
		{"NSE:NIFTY 50", "NSE:NIFTY50-INDEX"},
		{"NSE:NIFTY BANK", "NSE:NIFTYBANK-INDEX"},
		{"NFO:NIFTY24DECFUT", "NFO:NIFTY24DECFUT"},
		{"NFO:NIFTY2481924500CE", "NFO:NIFTY2481924500CE"},
		{"NFO:NIFTY2481924500PE", "NFO:NIFTY2481924500PE"},
		{"NSE:SBIN-EQ", "NSE:SBIN-EQ"},
		{"NSE:NIFTY50-INDEX", "NSE:NIFTY50-INDEX"},
		// The option detector keys on the CE/PE suffix alone, so equities
		// whose names happen to end in CE pass through undecorated.
		{"NSE:RELIANCE", "NSE:RELIANCE"},
	}

	for _, tt := range tests {
		if got := FyersResolver(tt.input); got != tt.want {
			t.Errorf("FyersResolver(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestZerodhaResolver(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"NSE:RELIANCE-EQ", "NSE:RELIANCE"},
		{"NSE:NIFTY50-INDEX", "NSE:NIFTY 50"},
		{"NSE:NIFTYBANK-INDEX", "NSE:NIFTY BANK"},
		{"NFO:NIFTY24DECFUT", "NFO:NIFTY24DECFUT"},
		{"NSE:SBIN", "NSE:SBIN"},
	}

	for _, tt := range tests {
		if got := ZerodhaResolver(tt.input); got != tt.want {
			t.Errorf("ZerodhaResolver(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRegistryResolverPrecedence(t *testing.T) {
	r := NewRegistry()
	r.RegisterMapping("acme", map[string]string{"NSE:SBIN": "SBIN_TABLE"})
	if got := r.ToBrokerSymbol("acme", "NSE:SBIN"); got != "SBIN_TABLE" {
		t.Fatalf("static table lookup = %q, want SBIN_TABLE", got)
	}

	r.RegisterResolver("acme", func(s string) string { return s + "_RESOLVED" })
	if got := r.ToBrokerSymbol("acme", "NSE:SBIN"); got != "NSE:SBIN_RESOLVED" {
		t.Fatalf("resolver should take precedence over table, got %q", got)
	}
}

func TestRegistryPassthrough(t *testing.T) {
	r := NewRegistry()
	if got := r.ToBrokerSymbol("unknown", "NSE:SBIN"); got != "NSE:SBIN" {
		t.Fatalf("unmapped broker should pass through, got %q", got)
	}
	if got := r.FromBrokerSymbol("unknown", "SBIN-EQ"); got != "NSE:SBIN" {
		t.Fatalf("FromBrokerSymbol fallback should normalize, got %q", got)
	}
}

func TestRegistryInverseMapping(t *testing.T) {
	r := NewRegistry()
	r.RegisterMapping("acme", map[string]string{"NSE:NIFTY 50": "NIFTY50-INDEX"})
	if got := r.FromBrokerSymbol("acme", "NIFTY50-INDEX"); got != "NSE:NIFTY 50" {
		t.Fatalf("inverse table lookup = %q, want NSE:NIFTY 50", got)
	}
}
