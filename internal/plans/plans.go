// Package plans maps a subscription tier to the limits and scripture
// categories it unlocks. Everything here is a pure function of the tier
// table and a usage snapshot.
package plans

import (
	"slices"
	"strings"
)

// Tier is a subscription plan identifier as stored in subscribers.plan_id.
type Tier string

const (
	Free    Tier = "free"
	Devotee Tier = "devotee"
	Guru    Tier = "guru"
)

// Unlimited marks a limit that never blocks.
const Unlimited = -1

// Scripture categories.
const (
	BhagavadGita = "bhagavad_gita"
	Ramayana     = "ramayana"
	Mahabharata  = "mahabharata"
	Upanishads   = "upanishads"
	Vedas        = "vedas"
	Puranas      = "puranas"
)

// Categories lists every known category in display order.
var Categories = []string{BhagavadGita, Ramayana, Mahabharata, Upanishads, Vedas, Puranas}

// Limits is one row of the tier table. PriceMinor is in the smallest unit of
// the billing currency (paise for INR).
type Limits struct {
	Tier              Tier     `json:"tier"`
	Name              string   `json:"name"`
	MaxDailyMessages  int      `json:"max_daily_messages"`
	MaxQuizzes        int      `json:"max_quizzes"`
	AllowedCategories []string `json:"allowed_categories"`
	PriceMinor        int64    `json:"price_minor"`
}

var table = map[Tier]Limits{
	Free: {
		Tier:              Free,
		Name:              "Free",
		MaxDailyMessages:  10,
		MaxQuizzes:        3,
		AllowedCategories: []string{BhagavadGita, Ramayana},
	},
	Devotee: {
		Tier:              Devotee,
		Name:              "Devotee",
		MaxDailyMessages:  50,
		MaxQuizzes:        25,
		AllowedCategories: []string{BhagavadGita, Ramayana, Mahabharata, Upanishads},
		PriceMinor:        19900,
	},
	Guru: {
		Tier:              Guru,
		Name:              "Guru",
		MaxDailyMessages:  Unlimited,
		MaxQuizzes:        Unlimited,
		AllowedCategories: Categories,
		PriceMinor:        49900,
	},
}

// ParseTier normalizes a plan id. Anything unrecognized is Free.
func ParseTier(s string) Tier {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := table[t]; ok {
		return t
	}
	return Free
}

// IsPaid reports whether s names a purchasable tier.
func IsPaid(s string) bool {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	return t == Devotee || t == Guru
}

// For returns the limits of a tier. The returned category slice is a copy.
func For(t Tier) Limits {
	l := table[ParseTier(string(t))]
	l.AllowedCategories = slices.Clone(l.AllowedCategories)
	return l
}

// All returns the tier table in ascending price order.
func All() []Limits {
	return []Limits{For(Free), For(Devotee), For(Guru)}
}

// IsCategory reports whether c is a known scripture category.
func IsCategory(c string) bool {
	return slices.Contains(Categories, c)
}

// Effective returns the tier a subscriber row currently grants. A row that
// is unconfirmed or past its end time grants Free.
func Effective(planID string, subscribed bool, subscriptionEnd, now int64) Tier {
	if !subscribed || subscriptionEnd <= now {
		return Free
	}
	return ParseTier(planID)
}
