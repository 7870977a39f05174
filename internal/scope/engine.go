// Package scope turns declarative data-scope configuration into query
// predicates and single-record access checks. Both modes are driven by the
// same per-type rule table so they cannot diverge.
package scope

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/guardpost/guardpost/internal/catalog"
	"github.com/guardpost/guardpost/internal/shared"
)

// Predicate is a SQL filter fragment with positional arguments. MatchAll and
// MatchNone short-circuit the fragment entirely.
type Predicate struct {
	SQL       string
	Args      []any
	MatchAll  bool
	MatchNone bool
}

// Query is a SQL statement plus its bound arguments, used by FilterQuery.
type Query struct {
	SQL  string
	Args []any
}

// Grant pairs a data scope with the optional constraint string carried on the
// grant edge that attached it.
type Grant struct {
	Scope      catalog.DataScope
	Constraint string
}

// Engine evaluates data scopes against principals.
type Engine struct {
	logger *slog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// identifier guards scope-configured column names before they reach SQL text.
var identifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// Predicate builds the filter for one scope grant. A principal lacking the
// attribute a rule needs yields MatchNone, never an error: scope evaluation
// fails closed.
func (e *Engine) Predicate(grant Grant, principal shared.Principal) Predicate {
	return e.predicateAt(grant, principal, 1)
}

func (e *Engine) predicateAt(grant Grant, principal shared.Principal, argStart int) Predicate {
	scope := grant.Scope
	switch scope.Type {
	case catalog.ScopeAll:
		return Predicate{MatchAll: true}
	case catalog.ScopePersonal:
		field := scope.OwnerField()
		if !identifier.MatchString(field) {
			return e.rejected(scope, "owner field is not a valid identifier")
		}
		return Predicate{
			SQL:  fmt.Sprintf("%s = $%d", field, argStart),
			Args: []any{principal.ID},
		}
	case catalog.ScopeDepartment:
		field := scope.DepartmentField()
		if !identifier.MatchString(field) {
			return e.rejected(scope, "department field is not a valid identifier")
		}
		if len(principal.DepartmentIDs) == 0 {
			return Predicate{MatchNone: true}
		}
		return Predicate{
			SQL:  fmt.Sprintf("%s = ANY($%d)", field, argStart),
			Args: []any{principal.DepartmentIDs},
		}
	case catalog.ScopeOrganization:
		field := scope.OrgField()
		if !identifier.MatchString(field) {
			return e.rejected(scope, "organization field is not a valid identifier")
		}
		if principal.OrganizationID == nil {
			return Predicate{MatchNone: true}
		}
		return Predicate{
			SQL:  fmt.Sprintf("%s = $%d", field, argStart),
			Args: []any{*principal.OrganizationID},
		}
	case catalog.ScopeCustom:
		return e.customPredicate(grant, principal, argStart)
	default:
		return e.rejected(scope, "unknown scope type")
	}
}

func (e *Engine) customPredicate(grant Grant, principal shared.Principal, argStart int) Predicate {
	scope := grant.Scope
	if len(scope.Config.Rules) == 0 {
		return Predicate{MatchNone: true}
	}
	var clauses []string
	var args []any
	n := argStart
	for _, rule := range scope.Config.Rules {
		if !identifier.MatchString(rule.Field) {
			return e.rejected(scope, "rule field is not a valid identifier")
		}
		value, ok := resolveValue(rule.Value, grant, principal)
		if !ok {
			return Predicate{MatchNone: true}
		}
		switch rule.Operator {
		case catalog.OpEq:
			clauses = append(clauses, fmt.Sprintf("%s = $%d", rule.Field, n))
			args = append(args, value)
			n++
		case catalog.OpIn:
			list, size, ok := normalizeList(value)
			if !ok || size == 0 {
				return Predicate{MatchNone: true}
			}
			clauses = append(clauses, fmt.Sprintf("%s = ANY($%d)", rule.Field, n))
			args = append(args, list)
			n++
		default:
			return e.rejected(scope, "unsupported rule operator")
		}
	}
	return Predicate{SQL: strings.Join(clauses, " AND "), Args: args}
}

// Combine OR-joins the predicates of all grants: any qualifying scope grants
// access to its subset of data. No grants means no access.
func (e *Engine) Combine(grants []Grant, principal shared.Principal) Predicate {
	return e.combineAt(grants, principal, 1)
}

func (e *Engine) combineAt(grants []Grant, principal shared.Principal, argStart int) Predicate {
	if len(grants) == 0 {
		return Predicate{MatchNone: true}
	}
	var clauses []string
	var args []any
	n := argStart
	for _, grant := range grants {
		pred := e.predicateAt(grant, principal, n)
		if pred.MatchAll {
			return Predicate{MatchAll: true}
		}
		if pred.MatchNone {
			continue
		}
		clauses = append(clauses, "("+pred.SQL+")")
		args = append(args, pred.Args...)
		n += len(pred.Args)
	}
	if len(clauses) == 0 {
		return Predicate{MatchNone: true}
	}
	return Predicate{SQL: strings.Join(clauses, " OR "), Args: args}
}

// FilterQuery appends the combined predicate of the grants to an existing
// query, renumbering placeholders after the query's own arguments. The input
// must end at its top-level WHERE clause (or carry none at all); callers add
// GROUP BY, ORDER BY, and LIMIT to the returned SQL afterwards.
func (e *Engine) FilterQuery(q Query, grants []Grant, principal shared.Principal) Query {
	pred := e.combineAt(grants, principal, len(q.Args)+1)
	if pred.MatchAll {
		return q
	}
	clause := pred.SQL
	if pred.MatchNone {
		clause = "FALSE"
	}
	joiner := " WHERE "
	if strings.Contains(strings.ToUpper(q.SQL), " WHERE ") {
		joiner = " AND "
	}
	return Query{
		SQL:  q.SQL + joiner + "(" + clause + ")",
		Args: append(append([]any{}, q.Args...), pred.Args...),
	}
}

func (e *Engine) rejected(scope catalog.DataScope, reason string) Predicate {
	e.logger.Warn("data scope rejected, matching nothing",
		slog.Int64("scope_id", scope.ID),
		slog.String("scope_slug", scope.Slug),
		slog.String("reason", reason))
	return Predicate{MatchNone: true}
}
