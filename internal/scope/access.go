package scope

import (
	"fmt"
	"strconv"

	"github.com/guardpost/guardpost/internal/catalog"
	"github.com/guardpost/guardpost/internal/shared"
)

// CanAccess evaluates one scope grant against a single record. The record is
// the flattened field map of the row being checked. Missing principal
// attributes or malformed config yield false, never an error.
func (e *Engine) CanAccess(grant Grant, principal shared.Principal, record map[string]any) bool {
	scope := grant.Scope
	switch scope.Type {
	case catalog.ScopeAll:
		return true
	case catalog.ScopePersonal:
		return valueEqual(record[scope.OwnerField()], principal.ID)
	case catalog.ScopeDepartment:
		value, ok := record[scope.DepartmentField()]
		if !ok {
			return false
		}
		for _, id := range principal.DepartmentIDs {
			if valueEqual(value, id) {
				return true
			}
		}
		return false
	case catalog.ScopeOrganization:
		if principal.OrganizationID == nil {
			return false
		}
		return valueEqual(record[scope.OrgField()], *principal.OrganizationID)
	case catalog.ScopeCustom:
		if len(scope.Config.Rules) == 0 {
			return false
		}
		for _, rule := range scope.Config.Rules {
			if !ruleMatches(rule, grant, principal, record) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// CanAccessAny reports whether any of the grants admits the record.
func (e *Engine) CanAccessAny(grants []Grant, principal shared.Principal, record map[string]any) bool {
	for _, grant := range grants {
		if e.CanAccess(grant, principal, record) {
			return true
		}
	}
	return false
}

func ruleMatches(rule catalog.ScopeRule, grant Grant, principal shared.Principal, record map[string]any) bool {
	want, ok := resolveValue(rule.Value, grant, principal)
	if !ok {
		return false
	}
	got, present := record[rule.Field]
	if !present {
		return false
	}
	switch rule.Operator {
	case catalog.OpEq:
		return valueEqual(got, want)
	case catalog.OpIn:
		list, ok := asList(want)
		if !ok {
			return false
		}
		for _, candidate := range list {
			if valueEqual(got, candidate) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Placeholder values usable inside CUSTOM rule config; resolved against the
// acting principal and the grant edge at evaluation time.
const (
	PlaceholderPrincipalID    = "@principal_id"
	PlaceholderOrganizationID = "@organization_id"
	PlaceholderDepartmentIDs  = "@department_ids"
	PlaceholderConstraint     = "@constraint"
)

func resolveValue(value any, grant Grant, principal shared.Principal) (any, bool) {
	marker, ok := value.(string)
	if !ok || len(marker) == 0 || marker[0] != '@' {
		return value, true
	}
	switch marker {
	case PlaceholderPrincipalID:
		return principal.ID, true
	case PlaceholderOrganizationID:
		if principal.OrganizationID == nil {
			return nil, false
		}
		return *principal.OrganizationID, true
	case PlaceholderDepartmentIDs:
		if len(principal.DepartmentIDs) == 0 {
			return nil, false
		}
		return principal.DepartmentIDs, true
	case PlaceholderConstraint:
		if grant.Constraint == "" {
			return nil, false
		}
		return grant.Constraint, true
	default:
		return nil, false
	}
}

// normalizeList converts a rule value into a homogeneous slice the database
// driver can bind as an array parameter.
func normalizeList(value any) (any, int, bool) {
	switch v := value.(type) {
	case []int64:
		return v, len(v), true
	case []string:
		return v, len(v), true
	case []float64:
		return v, len(v), true
	case []any:
		strs := make([]string, 0, len(v))
		floats := make([]float64, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				strs = append(strs, s)
				continue
			}
			if f, ok := toFloat(item); ok {
				floats = append(floats, f)
			}
		}
		if len(strs) == len(v) {
			return strs, len(strs), true
		}
		if len(floats) == len(v) {
			return floats, len(floats), true
		}
		return nil, 0, false
	default:
		return nil, 0, false
	}
}

func asList(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []int64:
		list := make([]any, len(v))
		for i, item := range v {
			list[i] = item
		}
		return list, true
	case []string:
		list := make([]any, len(v))
		for i, item := range v {
			list[i] = item
		}
		return list, true
	case []float64:
		list := make([]any, len(v))
		for i, item := range v {
			list[i] = item
		}
		return list, true
	default:
		return nil, false
	}
}

// valueEqual compares record values against principal attributes and config
// values, tolerating the numeric type mix produced by JSON decoding and
// database drivers.
func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
