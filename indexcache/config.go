package indexcache

import (
	"sort"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-index-cache/cache"
)

// Order is the sort direction of the ids kept at an index key.
type Order string

const (
	Ascending  Order = "asc"
	Descending Order = "desc"
)

const (
	DefaultVersion    = 1
	DefaultPrimaryKey = "id"
	DefaultTTL        = 24 * time.Hour
)

// IndexOptions tunes a single index declaration. Zero values inherit the
// model defaults: TTL and Arity from the Config, Order ascending.
type IndexOptions struct {
	TTL    time.Duration
	Order  Order
	Limit  int
	Buffer int
	Ranges bool
	Arity  int
}

// IndexDecl is a declared cacheable attribute combination.
type IndexDecl struct {
	Attributes []string
	IndexOptions
}

// Window is the number of ids a bounded index keeps per key, 0 when unbounded.
func (d IndexDecl) Window() int {
	if d.Limit <= 0 {
		return 0
	}
	return d.Limit + d.Buffer
}

// Name joins the attributes, e.g. "author/num_pages".
func (d IndexDecl) Name() string {
	return strings.Join(d.Attributes, cache.KeySeparator)
}

func (d IndexDecl) sameAttributes(attrs []string) bool {
	if len(d.Attributes) != len(attrs) {
		return false
	}
	for i := range attrs {
		if d.Attributes[i] != attrs[i] {
			return false
		}
	}
	return true
}

func (d IndexDecl) clone() IndexDecl {
	d.Attributes = append([]string(nil), d.Attributes...)
	return d
}

// Config is the immutable cache configuration of one model. Builder methods
// return modified copies and never touch the receiver.
type Config struct {
	name       string
	version    int
	primaryKey string
	ttl        time.Duration
	arity      int
	indices    []IndexDecl
}

// NewConfig returns the configuration for model name with default settings and
// no declared indices. The primary-key index is always implied.
func NewConfig(name string) Config {
	return Config{
		name:       name,
		version:    DefaultVersion,
		primaryKey: DefaultPrimaryKey,
		ttl:        DefaultTTL,
		arity:      cache.DefaultArity,
	}
}

func (c Config) Name() string       { return c.name }
func (c Config) Version() int       { return c.version }
func (c Config) PrimaryKey() string { return c.primaryKey }
func (c Config) TTL() time.Duration { return c.ttl }
func (c Config) Arity() int         { return c.arity }

// WithVersion changes the version segment of the namespace. Bumping it
// orphans every entry cached under the previous version.
func (c Config) WithVersion(v int) Config {
	c.version = v
	return c
}

func (c Config) WithTTL(ttl time.Duration) Config {
	c.ttl = ttl
	return c
}
func (c Config) WithArity(arity int) Config {
	c.arity = arity
	return c
}
func (c Config) WithPrimaryKey(column string) Config {
	c.primaryKey = column
	return c
}

// Namespace is the key prefix of the model, "<name>:<version>".
func (c Config) Namespace() string {
	return c.name + ":" + strconv.Itoa(c.version)
}

// WithIndex declares an index over attributes. Attributes are sorted and
// deduplicated; a declaration over the same attribute set replaces the
// previous one.
func (c Config) WithIndex(attributes []string, opts IndexOptions) Config {
	decl := IndexDecl{Attributes: normalizeAttributes(attributes), IndexOptions: opts}

	indices := make([]IndexDecl, 0, len(c.indices)+1)
	for _, existing := range c.indices {
		if !existing.sameAttributes(decl.Attributes) {
			indices = append(indices, existing.clone())
		}
	}
	c.indices = append(indices, decl)
	return c
}

// WithRange adds range support for attribute. An existing plain declaration is
// upgraded in place, otherwise a new range index is declared. Upgrades are only
// meant to happen while the configuration is assembled, before any traffic.
func (c Config) WithRange(attribute string, arity int) Config {
	attrs := []string{attribute}
	indices := make([]IndexDecl, len(c.indices))
	upgraded := false
	for i, existing := range c.indices {
		indices[i] = existing.clone()
		if existing.sameAttributes(attrs) {
			indices[i].Ranges = true
			if arity > 0 {
				indices[i].Arity = arity
			}
			upgraded = true
		}
	}
	c.indices = indices
	if !upgraded {
		return c.WithIndex(attrs, IndexOptions{Ranges: true, Arity: arity})
	}
	return c
}

// Derive copies the configuration under a new model name, keeping every index
// declaration. The copy can be extended without affecting c.
func (c Config) Derive(name string) Config {
	derived := c
	derived.name = name
	derived.indices = make([]IndexDecl, len(c.indices))
	for i, d := range c.indices {
		derived.indices[i] = d.clone()
	}
	return derived
}

// Indices returns every index with defaults resolved, the primary-key index first.
func (c Config) Indices() []IndexDecl {
	out := make([]IndexDecl, 0, len(c.indices)+1)
	out = append(out, c.resolve(IndexDecl{Attributes: []string{c.primaryKey}}))
	for _, d := range c.indices {
		if d.sameAttributes([]string{c.primaryKey}) {
			// a declaration over the primary key only tunes the implicit index
			out[0] = c.resolve(d)
			continue
		}
		out = append(out, c.resolve(d))
	}
	return out
}

func (c Config) resolve(d IndexDecl) IndexDecl {
	d = d.clone()
	if d.TTL <= 0 {
		d.TTL = c.ttl
	}
	if d.Order == "" {
		d.Order = Ascending
	}
	if d.Arity == 0 {
		d.Arity = c.arity
	}
	return d
}

// Validate checks the configuration and every index declaration.
func (c Config) Validate() error {
	if err := goerrors.ValidateWithOzzo(func() error {
		errs := validation.Errors{
			"name":        validation.Validate(c.name, validation.Required),
			"version":     validation.Validate(c.version, validation.Required, validation.Min(1)),
			"primary_key": validation.Validate(c.primaryKey, validation.Required),
			"ttl":         validation.Validate(c.ttl, validation.Required, validation.Min(time.Second)),
			"arity":       validation.Validate(c.arity, validation.Required, validation.Min(cache.MinArity), validation.Max(cache.MaxArity)),
		}
		for i, d := range c.Indices() {
			errs["indices."+strconv.Itoa(i)] = c.validateIndex(d)
		}
		return errs.Filter()
	}, "invalid index cache config for "+c.name); err != nil {
		return err
	}
	return nil
}

func (c Config) validateIndex(d IndexDecl) error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Attributes, validation.Required, validation.When(d.Ranges, validation.Length(1, 1).Error("a range index has exactly one attribute"))),
		validation.Field(&d.Order, validation.In(Ascending, Descending)),
		validation.Field(&d.Limit, validation.Min(0), validation.When(d.Ranges, validation.Empty.Error("a range index cannot be bounded"))),
		validation.Field(&d.Buffer, validation.Min(0), validation.When(d.Limit == 0, validation.Empty.Error("a buffer requires a limit"))),
		validation.Field(&d.Arity, validation.Min(cache.MinArity), validation.Max(cache.MaxArity)),
		validation.Field(&d.Ranges, validation.When(d.sameAttributes([]string{c.primaryKey}), validation.Empty.Error("the primary-key index cannot support ranges"))),
	)
}

func normalizeAttributes(attrs []string) []string {
	out := make([]string, 0, len(attrs))
	seen := make(map[string]struct{}, len(attrs))
	for _, a := range attrs {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
