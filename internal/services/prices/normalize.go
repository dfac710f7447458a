package prices

import "strings"

// Implied-price plausibility bounds. A quote this many times the price the
// account actually paid is assumed to be in minor units (pence, öre).
const (
	minorUnitLow  = 50.0
	minorUnitHigh = 200.0
)

// CorrectMinorUnit fixes quotes delivered in a currency's minor unit.
// GBp (pence) is converted outright; for other currencies the quote is
// checked against the implied price from the account's own trades and
// scaled down when it is implausibly large. Returns the corrected price
// and the major-unit currency.
func CorrectMinorUnit(price float64, currency string, impliedPrice float64) (float64, string) {
	if currency == "GBp" || currency == "GBX" {
		return price / 100.0, "GBP"
	}
	if impliedPrice > 0 && price > 0 {
		ratio := price / impliedPrice
		if ratio >= minorUnitLow && ratio <= minorUnitHigh {
			return price * 0.01, currency
		}
	}
	return price, currency
}

// PairFor returns the FX pair needed to convert the currency to EUR and
// whether the quoted rate must be divided rather than multiplied.
// USD quotes come as EURUSD (euro base), everything else as XXXEUR.
func PairFor(currency string) (pair string, invert bool) {
	switch strings.ToUpper(currency) {
	case "", "EUR":
		return "", false
	case "USD":
		return "EURUSD", true
	default:
		return strings.ToUpper(currency) + "EUR", false
	}
}

// ConvertToEUR applies an FX rate in the direction PairFor prescribed.
func ConvertToEUR(price, rate float64, invert bool) float64 {
	if rate <= 0 {
		return price
	}
	if invert {
		return price / rate
	}
	return price * rate
}
