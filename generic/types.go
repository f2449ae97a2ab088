/*
Package generic provides the shared types of the accident engine.

PURPOSE:
  This package contains the data model shared by sequencing and lagging
  indicator computation: counter keys, accident and victim records, working
  hour settings, and the persistence interfaces behind them. It has no
  knowledge of code formats or rate formulas.

KEY CONCEPTS IN THIS FILE (types.go):
  - CounterKey: (scope, company, site?, year) identity of a sequence counter
  - AccidentRecord / VictimRecord: Raw occurrence rows (read-only here)
  - WorkingHours: Annual exposure hours, split employee/contractor
  - InjuryCategory: Fixed six-value set used by the rate formulas

DESIGN PRINCIPLES:
  1. Type Safety: Scope, category and employee type are distinct string types
  2. Explicit keys: A counter key always names its scope; site is empty for global
  3. Integers for money: Damage costs are whole currency units (int64)

SEE ALSO:
  - store.go: Persistence interfaces
  - errors.go: Error taxonomy
  - sequence/: Code formatting and allocation
  - lagging/: Indicator computation
*/
package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// SEQUENCE COUNTER IDENTITY
// =============================================================================

// Scope selects whether a counter is company-wide or site-specific.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeSite   Scope = "site"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeGlobal || s == ScopeSite
}

// CodeKind names the code format a string is expected to follow.
type CodeKind string

const (
	KindGlobal CodeKind = "global"
	KindSite   CodeKind = "site"
)

// Sequence bounds. Codes render seq with exactly three digits.
const (
	MinSeq = 1
	MaxSeq = 999
)

// CounterKey identifies one monotonic counter.
// SiteCode is empty for ScopeGlobal and required for ScopeSite.
type CounterKey struct {
	Scope       Scope
	CompanyCode string
	SiteCode    string
	Year        int
}

// GlobalKey builds the company-wide counter key for a year.
func GlobalKey(company string, year int) CounterKey {
	return CounterKey{Scope: ScopeGlobal, CompanyCode: company, Year: year}
}

// SiteKey builds the site counter key for a year.
func SiteKey(company, site string, year int) CounterKey {
	return CounterKey{Scope: ScopeSite, CompanyCode: company, SiteCode: site, Year: year}
}

// Validate checks the structural rules of a key. Code segment syntax is
// checked by the sequence package.
func (k CounterKey) Validate() error {
	if !k.Scope.Valid() {
		return &InputError{Field: "scope", Reason: fmt.Sprintf("unknown scope %q", k.Scope)}
	}
	if k.CompanyCode == "" {
		return &InputError{Field: "company", Reason: "required"}
	}
	if k.Scope == ScopeSite && k.SiteCode == "" {
		return &InputError{Field: "site", Reason: "required for site scope"}
	}
	if k.Scope == ScopeGlobal && k.SiteCode != "" {
		return &InputError{Field: "site", Reason: "must be empty for global scope"}
	}
	if k.Year < 1000 || k.Year > 9999 {
		return &InputError{Field: "year", Reason: "must have four digits"}
	}
	return nil
}

func (k CounterKey) String() string {
	if k.Scope == ScopeSite {
		return fmt.Sprintf("site:%s/%s/%d", k.CompanyCode, k.SiteCode, k.Year)
	}
	return fmt.Sprintf("global:%s/%d", k.CompanyCode, k.Year)
}

// ManualOverride is an audit entry for an operator-set counter value.
type ManualOverride struct {
	ID        string
	Key       CounterKey
	OldSeq    int // 0 when the counter did not exist
	NewSeq    int
	Actor     string
	Reason    string
	AppliedAt time.Time
}

// =============================================================================
// ACCIDENT / VICTIM RECORDS
// =============================================================================

// EmployeeType distinguishes direct employees from contractor staff.
type EmployeeType string

const (
	EmployeeDirect     EmployeeType = "employee"
	EmployeeContractor EmployeeType = "contractor"
)

// InjuryCategory is the fixed category set used by the rate formulas.
type InjuryCategory string

const (
	InjuryDeath             InjuryCategory = "death"
	InjurySerious           InjuryCategory = "serious"
	InjuryMinor             InjuryCategory = "minor"
	InjuryHospitalTreatment InjuryCategory = "hospitalTreatment"
	InjuryFirstAid          InjuryCategory = "firstAid"
	InjuryOther             InjuryCategory = "other"
)

// InjuryCategories lists all categories in reporting order.
var InjuryCategories = []InjuryCategory{
	InjuryDeath, InjurySerious, InjuryMinor, InjuryHospitalTreatment, InjuryFirstAid, InjuryOther,
}

// AccidentRecord is one occurrence report.
type AccidentRecord struct {
	ID               string // site-scoped code (accident_id)
	GlobalID         string // company-scoped code (global_accident_no)
	CompanyCode      string
	SiteCode         string
	Year             int
	IsContractor     bool
	OccurredAt       time.Time
	DirectDamageCost int64
	Victims          []VictimRecord
}

// VictimRecord belongs to exactly one AccidentRecord.
type VictimRecord struct {
	AccidentID     string
	InjuryLabel    string // raw label as reported
	InjuryCategory InjuryCategory
	LossDays       int
	EmployeeType   EmployeeType
}

// =============================================================================
// WORKING HOURS - Annual exposure settings
// =============================================================================

// WorkingHours is the annual exposure for one year.
type WorkingHours struct {
	Year       int
	Total      int64
	Employee   int64
	Contractor int64
}

// Normalized fills Total from the parts when only the parts are configured.
func (w WorkingHours) Normalized() WorkingHours {
	if w.Total == 0 && (w.Employee > 0 || w.Contractor > 0) {
		w.Total = w.Employee + w.Contractor
	}
	return w
}
