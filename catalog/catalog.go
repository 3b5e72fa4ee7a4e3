// Package catalog discovers which translation models are usable and builds
// the ordered list of language pairs offered to users.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/minios-linux/pomt/langmeta"
)

var (
	// ErrUnknownPair is returned when a pair code is not in the catalog.
	ErrUnknownPair = errors.New("unknown language pair")
	// ErrNoModels is returned when discovery yields no usable model.
	ErrNoModels = errors.New("no usable translation models")
)

// Descriptor identifies one source→target model. Immutable once built.
type Descriptor struct {
	Code    string `json:"code"`
	ModelID string `json:"model_id"`
	Source  string `json:"source"`
	Target  string `json:"target"`
	Label   string `json:"label"`
}

// Options controls model discovery.
type Options struct {
	// Author is the registry namespace (e.g. "Helsinki-NLP").
	Author string
	// Family is the model name prefix inside the namespace (e.g. "opus-mt").
	Family string
	// Source is the fixed source language.
	Source string
	// Preferred is moved to the front of the list when present.
	Preferred string
	// Pairs is the explicit pair list used by Static.
	Pairs []string
}

func (o Options) modelID(code string) string {
	return o.Author + "/" + o.Family + "-" + code
}

// Lister lists model identifiers published under a namespace.
type Lister interface {
	ListModels(ctx context.Context, author, search string) ([]string, error)
}

// Catalog is the immutable, ordered set of available pairs.
type Catalog struct {
	list  []Descriptor
	index map[string]int
}

// Build queries the registry and keeps models named
// <author>/<family>-<source>-<target> whose target is a valid language tag.
// Malformed tags are skipped; a registry error is returned as is.
func Build(ctx context.Context, lister Lister, opts Options) (*Catalog, error) {
	search := opts.Family + "-" + opts.Source + "-"
	ids, err := lister.ListModels(ctx, opts.Author, search)
	if err != nil {
		return nil, fmt.Errorf("listing %s models: %w", opts.Author, err)
	}

	prefix := opts.Author + "/" + opts.Family + "-"
	var codes []string
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix+opts.Source+"-") {
			continue
		}
		code := strings.TrimPrefix(id, prefix)
		parts := strings.Split(code, "-")
		if len(parts) != 2 || !langmeta.Valid(parts[1]) {
			continue
		}
		codes = append(codes, code)
	}
	return fromCodes(codes, opts)
}

// Static builds a catalog from opts.Pairs without contacting a registry.
// Pairs whose languages do not parse are skipped.
func Static(opts Options) (*Catalog, error) {
	var codes []string
	for _, code := range opts.Pairs {
		parts := strings.Split(strings.TrimSpace(code), "-")
		if len(parts) != 2 || !langmeta.Valid(parts[0]) || !langmeta.Valid(parts[1]) {
			continue
		}
		codes = append(codes, parts[0]+"-"+parts[1])
	}
	return fromCodes(codes, opts)
}

func fromCodes(codes []string, opts Options) (*Catalog, error) {
	c := &Catalog{index: make(map[string]int)}
	for _, code := range codes {
		if _, dup := c.index[code]; dup {
			continue
		}
		src, tgt, _ := strings.Cut(code, "-")
		c.index[code] = len(c.list)
		c.list = append(c.list, Descriptor{
			Code:    code,
			ModelID: opts.modelID(code),
			Source:  src,
			Target:  tgt,
			Label:   Label(src, tgt),
		})
	}
	if len(c.list) == 0 {
		return nil, ErrNoModels
	}
	c.promote(opts.Preferred)
	return c, nil
}

// promote moves code to the front, keeping the relative order of the rest.
func (c *Catalog) promote(code string) {
	i, ok := c.index[code]
	if !ok || i == 0 {
		return
	}
	d := c.list[i]
	copy(c.list[1:i+1], c.list[:i])
	c.list[0] = d
	for j, d := range c.list {
		c.index[d.Code] = j
	}
}

// Label renders "English → Hungarian" style labels.
func Label(source, target string) string {
	return langmeta.EnglishName(source) + " → " + langmeta.EnglishName(target)
}

// Descriptors returns the pairs in display order.
func (c *Catalog) Descriptors() []Descriptor {
	out := make([]Descriptor, len(c.list))
	copy(out, c.list)
	return out
}

// Codes returns the pair codes in display order.
func (c *Catalog) Codes() []string {
	out := make([]string, len(c.list))
	for i, d := range c.list {
		out[i] = d.Code
	}
	return out
}

// Labels returns the code → label map.
func (c *Catalog) Labels() map[string]string {
	out := make(map[string]string, len(c.list))
	for _, d := range c.list {
		out[d.Code] = d.Label
	}
	return out
}

// Lookup returns the descriptor for code.
func (c *Catalog) Lookup(code string) (Descriptor, error) {
	i, ok := c.index[code]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownPair, code)
	}
	return c.list[i], nil
}

// Len returns the number of pairs.
func (c *Catalog) Len() int { return len(c.list) }
