package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"

	"bizops-incentives/pkg/db/option"
)

const (
	DefaultLimit = 20
	MaxLimit     = 250
)

type Pagination struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit"`
}

// Normalize clamps Limit to [1, MaxLimit].
func (p Pagination) Normalize() Pagination {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

type Cursor struct {
	ID int64 `json:"id,string,omitempty"`
}

type PageInfo struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

type Page[T any] struct {
	Data     []*T     `json:"data"`
	PageInfo PageInfo `json:"page_info"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}

// Options turns the page request into newest-first keyset query options over
// the snowflake id column. One extra row is fetched to detect HasMore.
func (p Pagination) Options() ([]option.QueryOption, error) {
	return p.OptionsBy("id")
}

// OptionsBy is Options keyed on another unique, increasing integer column.
func (p Pagination) OptionsBy(column string) ([]option.QueryOption, error) {
	p = p.Normalize()
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: column, OrderBy: "desc"}),
		option.WithLimit(p.Limit + 1),
	}

	if p.Cursor != "" {
		c, err := DecodeCursor(p.Cursor)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.ApplyOperator(option.Condition{Field: column, Operator: option.LT, Value: c.ID}))
	}

	return opts, nil
}

// BuildPage trims the extra row fetched by Options and fills the next cursor.
func BuildPage[T any](data []*T, limit int, extractID func(*T) int64) *Page[T] {
	limit = Pagination{Limit: limit}.Normalize().Limit
	if len(data) == 0 {
		return &Page[T]{Data: []*T{}}
	}

	page := &Page[T]{Data: data}
	if len(data) > limit {
		page.Data = data[:limit]
		page.PageInfo.HasMore = true
		next, _ := EncodeCursor(Cursor{ID: extractID(page.Data[limit-1])})
		page.PageInfo.NextCursor = next
	}

	return page
}

var ErrInvalidID = errors.New("id must be a positive integer")

// ParseID is a helper for handlers reading snowflake ids from path params.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}
