package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a query built by the repository layer.
type QueryOption func(*gorm.DB) *gorm.DB

type Operator string

const (
	EQ   Operator = "="
	NEQ  Operator = "<>"
	GT   Operator = ">"
	GTE  Operator = ">="
	LT   Operator = "<"
	LTE  Operator = "<="
	IN   Operator = "IN"
	LIKE Operator = "LIKE"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

func (c Condition) expression() (clause.Expression, error) {
	col := clause.Column{Name: c.Field}
	switch c.Operator {
	case EQ, "":
		return clause.Eq{Column: col, Value: c.Value}, nil
	case NEQ:
		return clause.Neq{Column: col, Value: c.Value}, nil
	case GT:
		return clause.Gt{Column: col, Value: c.Value}, nil
	case GTE:
		return clause.Gte{Column: col, Value: c.Value}, nil
	case LT:
		return clause.Lt{Column: col, Value: c.Value}, nil
	case LTE:
		return clause.Lte{Column: col, Value: c.Value}, nil
	case IN:
		values, ok := c.Value.([]any)
		if !ok {
			return nil, fmt.Errorf("operator IN on %s needs []any, got %T", c.Field, c.Value)
		}
		return clause.IN{Column: col, Values: values}, nil
	case LIKE:
		return clause.Like{Column: col, Value: c.Value}, nil
	default:
		return nil, fmt.Errorf("unsupported operator %q", c.Operator)
	}
}

// ApplyOperator adds one WHERE expression per condition.
func ApplyOperator(conds ...Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, c := range conds {
			expr, err := c.expression()
			if err != nil {
				_ = db.AddError(err)
				return db
			}
			db = db.Where(expr)
		}
		return db
	}
}

// WithID matches the id column explicitly, so a zero id selects nothing.
// Struct queries drop zero fields and would match any row.
func WithID(id any) QueryOption {
	return ApplyOperator(Condition{Field: "id", Operator: EQ, Value: id})
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// WithSortBy orders by SortBy (created_at when empty). Fields outside Allow
// are ignored when an allow list is given.
func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		field := s.SortBy
		if field == "" {
			field = "created_at"
		}
		if s.Allow != nil && !s.Allow[field] {
			return db
		}

		desc := strings.EqualFold(s.OrderBy, "desc")
		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: field}, Desc: desc})
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

// LockingUpdate is a gorm scope taking row locks on the selected rows. SQLite
// has no row locks and its dialector drops the clause.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}
