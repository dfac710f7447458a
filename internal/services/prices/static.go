package prices

// staticSymbols maps securities to vendor symbols without a network lookup.
// These cover instruments the mapping endpoint resolves poorly or not at all.
var staticSymbols = map[string]struct {
	Symbol   string
	Currency string
}{
	"US0378331005": {Symbol: "AAPL", Currency: "USD"},
	"US5949181045": {Symbol: "MSFT", Currency: "USD"},
	"US02079K3059": {Symbol: "GOOGL", Currency: "USD"},
	"US0231351067": {Symbol: "AMZN", Currency: "USD"},
	"US88160R1014": {Symbol: "TSLA", Currency: "USD"},
	"US67066G1040": {Symbol: "NVDA", Currency: "USD"},
	"DE0007164600": {Symbol: "SAP.DE", Currency: "EUR"},
	"DE0008404005": {Symbol: "ALV.DE", Currency: "EUR"},
	"NL0011794037": {Symbol: "AD.AS", Currency: "EUR"},
	"GB0007980591": {Symbol: "BP.L", Currency: "GBp"},
	"IE00B4L5Y983": {Symbol: "EUNL.DE", Currency: "EUR"}, // iShares Core MSCI World
	"IE00B5BMR087": {Symbol: "SXR8.DE", Currency: "EUR"}, // iShares Core S&P 500
	"IE00BK5BQT80": {Symbol: "VWCE.DE", Currency: "EUR"}, // Vanguard FTSE All-World
	"LU0908500753": {Symbol: "MEUD.PA", Currency: "EUR"}, // Lyxor Core STOXX Europe 600
}

// noDataSecurities lists instruments with no vendor price data at all:
// delisted notes, broker-internal products, crypto certificates without a
// quote feed. Lookups for these short-circuit to a permanent failure.
var noDataSecurities = map[string]bool{
	"DE000A3GVKY4": true,
	"DE000A27Z304": true,
	"XF000BTC0017": true,
	"XF000ETH0019": true,
}
