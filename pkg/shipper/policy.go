package shipper

import (
	"sort"
	"strings"
)

// Carrier identifiers known to the default availability table.
const (
	CarrierFedEx      = "fedex"
	CarrierUPS        = "ups"
	CarrierDHL        = "dhl"
	CarrierUSPS       = "usps"
	CarrierCanadaPost = "canadapost"
	CarrierPurolator  = "purolator"
)

// Scope restricts a rule by where the shipment travels relative to the home country.
type Scope int

const (
	// ScopeAny matches every route.
	ScopeAny Scope = iota
	// ScopeDomestic matches routes with both endpoints in the home country.
	ScopeDomestic
	// ScopeCrossBorder matches INTERNATIONAL shipments and routes with an endpoint abroad.
	ScopeCrossBorder
)

// Rule is one row of the availability table. Empty fields do not restrict.
type Rule struct {
	Carrier       string
	ShipmentTypes []ShipmentType
	Scope         Scope
	// Countries matches when either endpoint is in one of the listed countries.
	Countries   []string
	MaxWeightLB float64
}

func (r Rule) matches(req QuoteRequest, home string) bool {
	if len(r.ShipmentTypes) > 0 && !containsType(r.ShipmentTypes, req.ShipmentType) {
		return false
	}

	origin, dest := req.Origin.Country(), req.Destination.Country()
	switch r.Scope {
	case ScopeDomestic:
		if origin != home || dest != home {
			return false
		}
	case ScopeCrossBorder:
		if req.ShipmentType != ShipmentInternational && origin == home && dest == home {
			return false
		}
	}

	if len(r.Countries) > 0 && !containsFold(r.Countries, origin) && !containsFold(r.Countries, dest) {
		return false
	}

	if r.MaxWeightLB > 0 && req.WeightLB() > r.MaxWeightLB {
		return false
	}
	return true
}

// DefaultRules is the carrier availability table.
var DefaultRules = []Rule{
	{Carrier: CarrierFedEx},
	{Carrier: CarrierUPS},
	{Carrier: CarrierDHL, Scope: ScopeCrossBorder},
	{Carrier: CarrierUSPS, ShipmentTypes: []ShipmentType{ShipmentParcel}, Scope: ScopeDomestic, Countries: []string{"US"}, MaxWeightLB: 70},
	{Carrier: CarrierCanadaPost, Countries: []string{"CA"}},
	{Carrier: CarrierPurolator, Countries: []string{"CA"}},
}

// Policy decides which carriers may be queried for a request.
// A carrier without a rule is never eligible.
type Policy struct {
	home  string
	rules []Rule
}

// NewPolicy creates a policy over rules for the given home country.
func NewPolicy(homeCountry string, rules []Rule) *Policy {
	home := strings.ToUpper(strings.TrimSpace(homeCountry))
	if home == "" {
		home = "US"
	}
	return &Policy{
		home:  home,
		rules: append([]Rule(nil), rules...),
	}
}

// DefaultPolicy returns the policy built from DefaultRules.
func DefaultPolicy(homeCountry string) *Policy {
	return NewPolicy(homeCountry, DefaultRules)
}

// HomeCountry returns the country domestic routes are measured against.
func (p *Policy) HomeCountry() string {
	return p.home
}

// EligibleCarriers returns the sorted set of carriers allowed for req.
func (p *Policy) EligibleCarriers(req QuoteRequest) []string {
	seen := make(map[string]struct{}, len(p.rules))
	for _, rule := range p.rules {
		if rule.Carrier == "" {
			continue
		}
		if rule.matches(req, p.home) {
			seen[rule.Carrier] = struct{}{}
		}
	}

	eligible := make([]string, 0, len(seen))
	for name := range seen {
		eligible = append(eligible, name)
	}
	sort.Strings(eligible)
	return eligible
}

// Eligible reports whether a single carrier may be queried for req.
func (p *Policy) Eligible(carrier string, req QuoteRequest) bool {
	for _, rule := range p.rules {
		if rule.Carrier == carrier && rule.matches(req, p.home) {
			return true
		}
	}
	return false
}

func containsType(types []ShipmentType, t ShipmentType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}
