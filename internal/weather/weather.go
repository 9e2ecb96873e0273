package weather

import (
	"errors"
	"hash/fnv"
	"strings"

	"WeatherChat/internal/cache"
)

// ErrCityNotFound indicates the city is not in the known-city table.
// It is an expected outcome, not a transport failure.
var ErrCityNotFound = errors.New("city not found")

// Data is a single mock weather observation for a city
type Data struct {
	City          string  `json:"city"`
	TemperatureC  float64 `json:"temperature_c"`
	Condition     string  `json:"condition"`
	ConditionIcon string  `json:"condition_icon"`
	HumidityPct   int     `json:"humidity_pct"`
	WindKPH       float64 `json:"wind_kph"`
}

// LookupResult is the wire payload of a get_weather tool call. Found=false
// is a valid, expected outcome and must never be conflated with a transport
// failure.
type LookupResult struct {
	Found   bool   `json:"found"`
	City    string `json:"city,omitempty"`
	Weather *Data  `json:"weather,omitempty"`
}

type condition struct {
	label string
	icon  string
}

var conditions = []condition{
	{"Sunny", "☀️"},
	{"Partly cloudy", "⛅"},
	{"Cloudy", "☁️"},
	{"Overcast", "🌥️"},
	{"Light rain", "🌦️"},
	{"Rain", "🌧️"},
	{"Thunderstorm", "⛈️"},
	{"Snow", "❄️"},
	{"Fog", "🌫️"},
	{"Windy", "💨"},
}

// Normalize lowercases and trims a city name for lookup and hashing
func Normalize(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// Generator produces deterministic mock weather: within one process run the
// same normalized city name always maps to the same Data.
type Generator struct {
	seed uint64
	memo *cache.Store
}

// NewGenerator creates a Generator. Pass a fixed seed for reproducible runs;
// different seeds change the numbers but never the determinism.
func NewGenerator(seed uint64) *Generator {
	return &Generator{
		seed: seed,
		memo: cache.New(),
	}
}

// Lookup returns weather for the city, or ErrCityNotFound for an empty or
// unrecognized name. There is no default city.
func (g *Generator) Lookup(city string) (Data, error) {
	normalized := Normalize(city)
	if normalized == "" {
		return Data{}, ErrCityNotFound
	}
	if _, ok := knownCities[normalized]; !ok {
		return Data{}, ErrCityNotFound
	}

	key := cache.Key("weather", normalized)
	if cached, ok := g.memo.Load(key); ok {
		data := cached.(Data)
		data.City = strings.TrimSpace(city)
		return data, nil
	}

	data := g.generate(normalized)
	g.memo.Save(key, data)
	data.City = strings.TrimSpace(city)
	return data, nil
}

func (g *Generator) generate(normalized string) Data {
	h := fnv.New64a()
	h.Write([]byte(normalized))
	bits := h.Sum64() ^ g.seed

	cond := conditions[bits>>24%uint64(len(conditions))]
	return Data{
		City:          normalized,
		TemperatureC:  -10.0 + float64(bits%450)/10.0,
		Condition:     cond.label,
		ConditionIcon: cond.icon,
		HumidityPct:   int(bits >> 8 % 101),
		WindKPH:       float64(bits >> 16 % 400) / 10.0,
	}
}
