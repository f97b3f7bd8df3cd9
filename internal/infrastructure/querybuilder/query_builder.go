package querybuilder

import (
	"fmt"
	"strings"
)

// QueryBuilder builds parameterized PostgreSQL SELECT statements.
type QueryBuilder struct {
	table      string
	columns    []string
	conditions []Condition
	orderBy    []OrderBy
	groupBy    []string
	limit      *int
}

// Condition represents a WHERE condition
type Condition struct {
	Column   string
	Operator Operator
	Value    interface{}
}

// OrderBy represents an ORDER BY clause
type OrderBy struct {
	Column    string
	Direction Direction
}

// Operator represents SQL comparison operators
type Operator int

const (
	Equal Operator = iota
	NotEqual
	GreaterThan
	GreaterThanOrEqual
	LessThan
	LessThanOrEqual
	In
	NotIn
	IsNull
	IsNotNull
)

// Direction represents sort direction
type Direction int

const (
	Asc Direction = iota
	Desc
)

func New() *QueryBuilder {
	return &QueryBuilder{}
}

func (qb *QueryBuilder) Select(columns ...string) *QueryBuilder {
	qb.columns = columns
	return qb
}

func (qb *QueryBuilder) From(table string) *QueryBuilder {
	qb.table = table
	return qb
}

// Where adds an AND condition.
func (qb *QueryBuilder) Where(column string, operator Operator, value interface{}) *QueryBuilder {
	qb.conditions = append(qb.conditions, Condition{Column: column, Operator: operator, Value: value})
	return qb
}

func (qb *QueryBuilder) WhereEqual(column string, value interface{}) *QueryBuilder {
	return qb.Where(column, Equal, value)
}

// WhereIf adds the condition only when ok is true. Optional filters use it.
func (qb *QueryBuilder) WhereIf(ok bool, column string, operator Operator, value interface{}) *QueryBuilder {
	if !ok {
		return qb
	}
	return qb.Where(column, operator, value)
}

func (qb *QueryBuilder) OrderBy(column string, direction Direction) *QueryBuilder {
	qb.orderBy = append(qb.orderBy, OrderBy{Column: column, Direction: direction})
	return qb
}

func (qb *QueryBuilder) OrderByAsc(column string) *QueryBuilder {
	return qb.OrderBy(column, Asc)
}

func (qb *QueryBuilder) OrderByDesc(column string) *QueryBuilder {
	return qb.OrderBy(column, Desc)
}

func (qb *QueryBuilder) GroupBy(columns ...string) *QueryBuilder {
	qb.groupBy = append(qb.groupBy, columns...)
	return qb
}

func (qb *QueryBuilder) Limit(limit int) *QueryBuilder {
	qb.limit = &limit
	return qb
}

// ToSQL renders the statement with $n placeholders and its arguments in order.
func (qb *QueryBuilder) ToSQL() (string, []interface{}, error) {
	if qb.table == "" {
		return "", nil, fmt.Errorf("table name is required for SELECT query")
	}

	var query strings.Builder
	var params []interface{}
	paramIndex := 1

	query.WriteString("SELECT ")
	if len(qb.columns) == 0 {
		query.WriteString("*")
	} else {
		query.WriteString(strings.Join(qb.columns, ", "))
	}
	query.WriteString(" FROM ")
	query.WriteString(qb.table)

	if len(qb.conditions) > 0 {
		parts := make([]string, 0, len(qb.conditions))
		for _, c := range qb.conditions {
			part, args, err := c.render(paramIndex)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, part)
			params = append(params, args...)
			paramIndex += len(args)
		}
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(parts, " AND "))
	}

	if len(qb.groupBy) > 0 {
		query.WriteString(" GROUP BY ")
		query.WriteString(strings.Join(qb.groupBy, ", "))
	}

	if len(qb.orderBy) > 0 {
		clauses := make([]string, len(qb.orderBy))
		for i, o := range qb.orderBy {
			direction := "ASC"
			if o.Direction == Desc {
				direction = "DESC"
			}
			clauses[i] = o.Column + " " + direction
		}
		query.WriteString(" ORDER BY ")
		query.WriteString(strings.Join(clauses, ", "))
	}

	if qb.limit != nil {
		query.WriteString(fmt.Sprintf(" LIMIT $%d", paramIndex))
		params = append(params, *qb.limit)
	}

	return query.String(), params, nil
}

func (c Condition) render(index int) (string, []interface{}, error) {
	switch c.Operator {
	case Equal:
		return fmt.Sprintf("%s = $%d", c.Column, index), []interface{}{c.Value}, nil
	case NotEqual:
		return fmt.Sprintf("%s != $%d", c.Column, index), []interface{}{c.Value}, nil
	case GreaterThan:
		return fmt.Sprintf("%s > $%d", c.Column, index), []interface{}{c.Value}, nil
	case GreaterThanOrEqual:
		return fmt.Sprintf("%s >= $%d", c.Column, index), []interface{}{c.Value}, nil
	case LessThan:
		return fmt.Sprintf("%s < $%d", c.Column, index), []interface{}{c.Value}, nil
	case LessThanOrEqual:
		return fmt.Sprintf("%s <= $%d", c.Column, index), []interface{}{c.Value}, nil
	case In, NotIn:
		values, ok := c.Value.([]interface{})
		if !ok || len(values) == 0 {
			return "", nil, fmt.Errorf("%s requires a non-empty value list", c.Column)
		}
		placeholders := make([]string, len(values))
		for i := range values {
			placeholders[i] = fmt.Sprintf("$%d", index+i)
		}
		op := "IN"
		if c.Operator == NotIn {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", c.Column, op, strings.Join(placeholders, ", ")), values, nil
	case IsNull:
		return c.Column + " IS NULL", nil, nil
	case IsNotNull:
		return c.Column + " IS NOT NULL", nil, nil
	default:
		return "", nil, fmt.Errorf("unsupported operator %d", c.Operator)
	}
}
