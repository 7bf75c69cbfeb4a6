package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultRestaurantTimezone = "Europe/Paris"

type Restaurant struct {
	ID                     string
	Name                   string
	OwnerUserID            string
	CommissionRatePercent  *decimal.Decimal
	ManuallyClosed         bool
	PrepTimeMinutesDefault int
	PrepTimeUpdatedAt      *time.Time
	Timezone               string
	Latitude               float64
	Longitude              float64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Location resolves the restaurant timezone, falling back to the platform
// default when the stored name is empty or unknown.
func (r Restaurant) Location() *time.Location {
	name := r.Timezone
	if name == "" {
		name = DefaultRestaurantTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PrepTimeUpdatedOn reports whether the partner confirmed their preparation
// time on the same local calendar day as now.
func (r Restaurant) PrepTimeUpdatedOn(now time.Time) bool {
	if r.PrepTimeUpdatedAt == nil {
		return false
	}
	return SameLocalDay(*r.PrepTimeUpdatedAt, now, r.Location())
}

func SameLocalDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// NormalizeManuallyClosed turns whatever the store holds (NULL, tinyint,
// text, bool) into a strict boolean. Anything unrecognized means open.
func NormalizeManuallyClosed(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return false
	case bool:
		return v
	case int64:
		return v == 1
	case int:
		return v == 1
	case []byte:
		return parseClosedString(string(v))
	case string:
		return parseClosedString(v)
	}
	return false
}

func parseClosedString(s string) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return false
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s == "yes" || s == "on"
}
