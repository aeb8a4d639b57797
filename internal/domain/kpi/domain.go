// Package kpi holds the value types shared by the KPI engine: domains,
// periods, calendars, per-unit aggregates and consolidated reports.
package kpi

import (
	"fmt"

	"github.com/davidleathers/unit-kpi-backend/internal/domain/errors"
)

// Domain identifies a KPI family. It namespaces cache keys and metrics and
// selects the query set and formulas used to build a report.
type Domain string

const (
	DomainBookings   Domain = "bookings"
	DomainCompany    Domain = "company"
	DomainRestaurant Domain = "restaurant"
	DomainGovernance Domain = "governance"
)

// Domains lists every known domain in a stable order.
func Domains() []Domain {
	return []Domain{DomainBookings, DomainCompany, DomainRestaurant, DomainGovernance}
}

func (d Domain) String() string {
	return string(d)
}

// IsValid reports whether d is one of the known domains.
func (d Domain) IsValid() bool {
	switch d {
	case DomainBookings, DomainCompany, DomainRestaurant, DomainGovernance:
		return true
	}
	return false
}

// ParseDomain converts user input into a Domain.
func ParseDomain(s string) (Domain, error) {
	d := Domain(s)
	if !d.IsValid() {
		return "", errors.NewValidationError(errors.CodeInvalidDomain, fmt.Sprintf("unknown KPI domain %q", s))
	}
	return d, nil
}

// UnitID identifies one tenant property and its database.
type UnitID string

// Unit is a connected tenant property.
type Unit struct {
	ID   UnitID `json:"id"`
	Name string `json:"name"`
}

// UnitScope narrows a request to a single unit. The empty scope means the
// consolidated view across every connected unit.
type UnitScope string

// AllUnits is the consolidated scope.
const AllUnits UnitScope = ""

// IsAll reports whether the scope covers every unit.
func (s UnitScope) IsAll() bool {
	return s == AllUnits
}

// Matches reports whether unit u falls inside the scope.
func (s UnitScope) Matches(u Unit) bool {
	return s.IsAll() || UnitID(s) == u.ID
}
