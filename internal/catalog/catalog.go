// Package catalog defines the coin packs a user can buy to recharge.
//
// Catalogs are CUE files validated against an embedded schema (see
// schema.cue). Defaults such as currency are filled in by the schema, so
// a pack only needs an id, a name, a coin amount and a price.
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaCUE string

//go:embed default.cue
var defaultCUE string

// Pack is one purchasable bundle of coins.
type Pack struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Coins       int64  `json:"coins"`
	PriceCents  int64  `json:"price_cents"`
	Currency    string `json:"currency"`
	StripePrice string `json:"stripe_price,omitempty"`
	Popular     bool   `json:"popular"`
}

// Catalog is an ordered list of packs.
type Catalog struct {
	Packs []Pack `json:"packs"`
}

// Error is a catalog validation failure with its source position.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse("default.cue", []byte(defaultCUE))
	if err != nil {
		panic(fmt.Sprintf("catalog: built-in catalog is invalid: %v", err))
	}
	return c
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(path, src)
}

// Parse validates src against the catalog schema.
func Parse(filename string, src []byte) (*Catalog, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	data := ctx.CompileBytes(src, cue.Filename(filename))
	if err := data.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := schema.LookupPath(cue.ParsePath("#Catalog")).Unify(data)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var c Catalog
	if err := v.Decode(&c); err != nil {
		return nil, formatCUEError(err)
	}

	seen := make(map[string]bool, len(c.Packs))
	for i, p := range c.Packs {
		if seen[p.ID] {
			return nil, &Error{
				Field:   fmt.Sprintf("packs[%d].id", i),
				Message: fmt.Sprintf("duplicate pack id %q", p.ID),
			}
		}
		seen[p.ID] = true
	}
	return &c, nil
}

// Find returns the pack with id.
func (c *Catalog) Find(id string) (Pack, bool) {
	for _, p := range c.Packs {
		if p.ID == id {
			return p, true
		}
	}
	return Pack{}, false
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &Error{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
