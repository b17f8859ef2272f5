package option

import (
	"fmt"
	"strings"

	"testerhub-engagement/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption decorates a query built by repository.Repository.
type QueryOption func(*gorm.DB) *gorm.DB

type Operator string

const (
	EQ  Operator = "="
	NEQ Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
	IN  Operator = "IN"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// QuerySortBy orders results by SortBy when it is listed in Allow.
// Unknown columns fall back to created_at so user input never reaches SQL.
type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		column := "created_at"
		if s.SortBy != "" && s.Allow[s.SortBy] {
			column = s.SortBy
		}
		return db.Order(clause.OrderByColumn{
			Column: clause.Column{Name: column},
			Desc:   strings.EqualFold(s.OrderBy, "desc"),
		})
	}
}

// WithOrder adds a fixed, trusted ordering such as "check_in_date ASC".
func WithOrder(order string) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Order(order)
	}
}

func ApplyOperator(c Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		col := clause.Column{Name: c.Field}
		switch c.Operator {
		case IN:
			return db.Where(clause.IN{Column: col, Values: toValues(c.Value)})
		case EQ, NEQ, GT, GTE, LT, LTE:
			return db.Where(clause.Expr{
				SQL:  "? " + string(c.Operator) + " ?",
				Vars: []any{col, c.Value},
			})
		default:
			_ = db.AddError(fmt.Errorf("option: unsupported operator %q", c.Operator))
			return db
		}
	}
}

func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	}
}

func ApplyPagination(p pagination.Pagination) QueryOption {
	return WithLimit(p.Limit)
}

// WithLockingUpdate takes a row lock on the selected rows. Dialects without
// SELECT ... FOR UPDATE (sqlite) ignore the clause.
func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

// LockingUpdate can be used directly as a gorm scope.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector != nil && db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

func toValues(v any) []any {
	switch vals := v.(type) {
	case []any:
		return vals
	case []string:
		out := make([]any, len(vals))
		for i, s := range vals {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}
