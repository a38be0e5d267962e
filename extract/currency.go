package extract

import (
	"strconv"
	"strings"
)

// Supported ISO 4217 currency codes. Resolution always lands on one of
// these; anything unresolvable falls through to USD.
const (
	CurHKD = "HKD"
	CurUSD = "USD"
	CurEUR = "EUR"
	CurGBP = "GBP"
	CurJPY = "JPY"
	CurCNY = "CNY"
	CurAUD = "AUD"
	CurSGD = "SGD"
	CurCAD = "CAD"
)

// currencyMarker pairs a symbol that may appear in the raw price text
// with either a fixed code or a host-dependent resolver. Multi-character
// markers are listed before the single characters they contain so that
// "HK$" never resolves as "$".
type currencyMarker struct {
	symbol  string
	code    string
	resolve func(host string) string
}

var currencyMarkers = []currencyMarker{
	{symbol: "HK$", code: CurHKD},
	{symbol: "US$", code: CurUSD},
	{symbol: "JP¥", code: CurJPY},
	{symbol: "AU$", code: CurAUD},
	{symbol: "SG$", code: CurSGD},
	{symbol: "S$", code: CurSGD},
	{symbol: "CA$", code: CurCAD},
	{symbol: "C$", code: CurCAD},
	{symbol: "€", code: CurEUR},
	{symbol: "£", code: CurGBP},
	{symbol: "$", resolve: resolveDollar},
	{symbol: "¥", resolve: resolveYen},
}

func resolveDollar(host string) string {
	switch {
	case strings.HasSuffix(host, ".hk"):
		return CurHKD
	case strings.HasSuffix(host, ".au"):
		return CurAUD
	case strings.HasSuffix(host, ".sg"):
		return CurSGD
	case strings.HasSuffix(host, ".ca"):
		return CurCAD
	}
	return CurUSD
}

func resolveYen(host string) string {
	if strings.HasSuffix(host, ".cn") || strings.Contains(host, "china") {
		return CurCNY
	}
	return CurJPY
}

// hostCurrency is the fallback when the price text carries no marker at
// all: infer from the origin host, defaulting to USD.
func hostCurrency(host string) string {
	switch {
	case strings.HasSuffix(host, ".hk"):
		return CurHKD
	case strings.HasSuffix(host, ".uk") || strings.HasSuffix(host, ".co.uk"):
		return CurGBP
	case strings.HasSuffix(host, ".jp"):
		return CurJPY
	case strings.HasSuffix(host, ".cn"):
		return CurCNY
	case strings.HasSuffix(host, ".au"):
		return CurAUD
	case strings.HasSuffix(host, ".sg"):
		return CurSGD
	case strings.HasSuffix(host, ".ca"):
		return CurCAD
	case strings.HasSuffix(host, ".de") || strings.HasSuffix(host, ".fr") ||
		strings.HasSuffix(host, ".es") || strings.HasSuffix(host, ".it") ||
		strings.HasSuffix(host, ".nl") || strings.HasSuffix(host, ".eu"):
		return CurEUR
	}
	return CurUSD
}

// ResolveCurrency maps raw price text plus the origin host to a
// currency code. It is total: any input pair resolves to a code.
func ResolveCurrency(raw, host string) string {
	host = strings.ToLower(host)
	for _, m := range currencyMarkers {
		if !strings.Contains(raw, m.symbol) {
			continue
		}
		if m.resolve != nil {
			return m.resolve(host)
		}
		return m.code
	}
	return hostCurrency(host)
}

// ParseAmount extracts the numeric amount from raw price text such as
// "HK$1,299.00" or "¥ 99". It returns false when the text holds no
// usable number.
func ParseAmount(raw string) (float64, bool) {
	start := -1
	for i, r := range raw {
		if r >= '0' && r <= '9' {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, false
	}
	end := start
	for end < len(raw) {
		c := raw[end]
		if (c >= '0' && c <= '9') || c == ',' || c == '.' || c == ' ' {
			end++
			continue
		}
		break
	}
	num := strings.TrimSpace(raw[start:end])

	// Treat separators deterministically: the last '.' or ',' followed
	// by exactly two digits is the decimal point, everything else is a
	// thousands separator.
	num = strings.ReplaceAll(num, " ", "")
	lastDot := strings.LastIndexByte(num, '.')
	lastComma := strings.LastIndexByte(num, ',')
	sep := lastDot
	if lastComma > sep {
		sep = lastComma
	}
	if sep >= 0 && len(num)-sep-1 == 2 {
		intPart := strings.Map(digitsOnly, num[:sep])
		num = intPart + "." + num[sep+1:]
	} else {
		num = strings.Map(digitsOnly, num)
	}
	if num == "" || num == "." {
		return 0, false
	}

	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func digitsOnly(r rune) rune {
	if r >= '0' && r <= '9' {
		return r
	}
	return -1
}
