package weather

// knownCities is the recognizability table for the mock service. Lookups for
// names outside it return ErrCityNotFound rather than invented data.
var knownCities = map[string]struct{}{
	"amsterdam":      {},
	"athens":         {},
	"atlanta":        {},
	"auckland":       {},
	"bangkok":        {},
	"barcelona":      {},
	"beijing":        {},
	"berlin":         {},
	"bogota":         {},
	"boston":         {},
	"brussels":       {},
	"buenos aires":   {},
	"cairo":          {},
	"cape town":      {},
	"chicago":        {},
	"copenhagen":     {},
	"dallas":         {},
	"delhi":          {},
	"denver":         {},
	"dubai":          {},
	"dublin":         {},
	"edinburgh":      {},
	"helsinki":       {},
	"hong kong":      {},
	"houston":        {},
	"istanbul":       {},
	"jakarta":        {},
	"johannesburg":   {},
	"lagos":          {},
	"lima":           {},
	"lisbon":         {},
	"london":         {},
	"los angeles":    {},
	"madrid":         {},
	"melbourne":      {},
	"mexico city":    {},
	"miami":          {},
	"milan":          {},
	"montreal":       {},
	"moscow":         {},
	"mumbai":         {},
	"munich":         {},
	"nairobi":        {},
	"new york":       {},
	"osaka":          {},
	"oslo":           {},
	"paris":          {},
	"prague":         {},
	"reykjavik":      {},
	"rio de janeiro": {},
	"rome":           {},
	"san francisco":  {},
	"santiago":       {},
	"sao paulo":      {},
	"seattle":        {},
	"seoul":          {},
	"shanghai":       {},
	"singapore":      {},
	"stockholm":      {},
	"sydney":         {},
	"taipei":         {},
	"tokyo":          {},
	"toronto":        {},
	"vancouver":      {},
	"vienna":         {},
	"warsaw":         {},
	"zurich":         {},
}
