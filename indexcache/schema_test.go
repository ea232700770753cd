package indexcache

import (
	"database/sql"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type auditFields struct {
	CreatedAt time.Time `bun:"created_at"`
}

type article struct {
	ID          int64
	Slug        string `bun:"slug,unique"`
	Internal    string `bun:"-"`
	ReviewerID  sql.NullInt64
	HTTPStatus  int
	PublishedAt *time.Time
	Author      *Book `bun:"rel:belongs-to"`
	auditFields
	hidden int
}

func TestSchemaColumns(t *testing.T) {
	s, err := NewSchema[*article]()
	require.NoError(t, err)

	assert.Equal(t, "article", s.Table())
	assert.Equal(t, []string{"id", "slug", "reviewer_id", "http_status", "published_at", "created_at"}, s.Columns())
	assert.False(t, s.HasColumn("internal"))
	assert.False(t, s.HasColumn("author"))

	books, err := NewSchema[Book]()
	require.NoError(t, err)
	assert.Equal(t, "books", books.Table())
	assert.Equal(t, []string{"id", "title", "author_id", "num_pages", "genre"}, books.Columns())

	_, err = NewSchema[int]()
	require.Error(t, err)
	assert.True(t, goerrors.IsCategory(err, goerrors.CategoryBadInput))
}

func TestSchemaValues(t *testing.T) {
	s, err := NewSchema[*Book]()
	require.NoError(t, err)

	genre := "sf"
	b := &Book{ID: 3, Title: "Dune", AuthorID: 9, NumPages: 412, Genre: &genre}

	v, ok := s.Value(b, "genre")
	require.True(t, ok)
	assert.Equal(t, "sf", v)

	v, ok = s.Value(&Book{}, "genre")
	assert.True(t, ok)
	assert.Nil(t, v)

	_, ok = s.Value(b, "missing")
	assert.False(t, ok)
	_, ok = s.Value(nil, "id")
	assert.False(t, ok)

	id, ok := s.Int(b, "id")
	require.True(t, ok)
	assert.EqualValues(t, 3, id)
	_, ok = s.Int(b, "title")
	assert.False(t, ok)

	assert.Equal(t, map[string]any{
		"id": int64(3), "title": "Dune", "author_id": int64(9), "num_pages": int64(412), "genre": "sf",
	}, s.Values(b))
}

func TestSchemaCast(t *testing.T) {
	type row struct {
		Count   int32
		Ratio   float64
		Active  bool
		Name    string
		Seen    time.Time
		Size    uint16
		Pointer *int64
	}
	s, err := NewSchema[row]()
	require.NoError(t, err)

	cases := []struct {
		column  string
		literal string
		want    any
		wantErr bool
	}{
		{column: "count", literal: "12", want: int32(12)},
		{column: "count", literal: "x", wantErr: true},
		{column: "ratio", literal: "0.5", want: 0.5},
		{column: "active", literal: "true", want: true},
		{column: "name", literal: "12", want: "12"},
		{column: "seen", literal: "2024-05-01", want: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{column: "seen", literal: "yesterday", wantErr: true},
		{column: "size", literal: "70000", wantErr: true},
		{column: "pointer", literal: "-4", want: int64(-4)},
		{column: "missing", literal: "1", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.column+"="+tc.literal, func(t *testing.T) {
			got, err := s.Cast(tc.column, tc.literal)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestToInt64(t *testing.T) {
	cases := []struct {
		in   any
		want int64
		ok   bool
	}{
		{in: 5, want: 5, ok: true},
		{in: uint8(7), want: 7, ok: true},
		{in: 3.0, want: 3, ok: true},
		{in: 3.5, ok: false},
		{in: "42", want: 42, ok: true},
		{in: sql.NullInt64{Int64: 9, Valid: true}, want: 9, ok: true},
		{in: sql.NullInt64{}, ok: false},
		{in: nil, ok: false},
		{in: true, ok: false},
	}
	for _, tc := range cases {
		got, ok := toInt64(tc.in)
		assert.Equal(t, tc.ok, ok, "%#v", tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got, "%#v", tc.in)
		}
	}
}

func TestDiff(t *testing.T) {
	s, err := NewSchema[*Book]()
	require.NoError(t, err)

	changes := Diff(s, book(1, 1, 10), book(1, 2, 10))
	assert.Equal(t, Changes{"author_id": {Old: int64(1), New: int64(2)}}, changes)
	assert.True(t, changes.Changed("title", "author_id"))
	assert.False(t, changes.Changed("num_pages"))

	tr := Transition[*Book]{Record: book(1, 2, 10), Changes: changes}
	assert.Equal(t, int64(1), tr.Previous(s, "author_id"))
	assert.Equal(t, int64(2), tr.Current(s, "author_id"))
	assert.Equal(t, int64(10), tr.Previous(s, "num_pages"))

	assert.Empty(t, Diff(s, book(1, 1, 10), book(1, 1, 10)))
}

func TestToSnake(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ID", "id"},
		{"AuthorID", "author_id"},
		{"HTTPStatus", "http_status"},
		{"NumPages", "num_pages"},
		{"Version2Name", "version2_name"},
		{"already_snake", "already_snake"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := toSnake(tt.in); got != tt.want {
			t.Errorf("toSnake(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
