// Package directory provides the static stock lookup table: canonical
// symbols, display names, and a curated alias table covering localized
// company names and common ticker variants.
package directory

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/budvest/portfolio-engine/internal/model"
)

// symbolRegex matches canonical symbols: a US-style exchange ticker
// (1-5 letters) or a 6-digit A-share code.
var symbolRegex = regexp.MustCompile(`^(?:[A-Z]{1,5}|[0-9]{6})$`)

var (
	ErrInvalidSymbol = errors.New("directory: invalid stock symbol")
	ErrUnknownAlias  = errors.New("directory: alias targets unknown symbol")
)

// Directory resolves free-text stock names to canonical Stock records.
// Immutable after construction; safe for concurrent use.
type Directory struct {
	stocks   []model.Stock
	bySymbol map[string]int // lowercased symbol → index
	byName   map[string]int // lowercased display name → index
	aliases  map[string]string
}

// New builds a directory from reference stocks and an alias table mapping
// lowercased alternate names to canonical symbols.
func New(stocks []model.Stock, aliases map[string]string) (*Directory, error) {
	d := &Directory{
		stocks:   stocks,
		bySymbol: make(map[string]int, len(stocks)),
		byName:   make(map[string]int, len(stocks)),
		aliases:  make(map[string]string, len(aliases)),
	}
	for i, s := range stocks {
		if !symbolRegex.MatchString(s.Symbol) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSymbol, s.Symbol)
		}
		d.bySymbol[strings.ToLower(s.Symbol)] = i
		d.byName[strings.ToLower(s.Name)] = i
	}
	for alias, symbol := range aliases {
		if _, ok := d.bySymbol[strings.ToLower(symbol)]; !ok {
			return nil, fmt.Errorf("%w: %q → %q", ErrUnknownAlias, alias, symbol)
		}
		d.aliases[strings.ToLower(alias)] = strings.ToLower(symbol)
	}
	return d, nil
}

// Resolve maps a free-text name to a canonical stock record.
// Matching order: exact symbol, exact display name, alias table.
// Returns nil when nothing matches — "stock not recognized" is a normal
// outcome for callers, not an error.
func (d *Directory) Resolve(name string) *model.Stock {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return nil
	}

	if i, ok := d.bySymbol[normalized]; ok {
		s := d.stocks[i]
		return &s
	}
	if i, ok := d.byName[normalized]; ok {
		s := d.stocks[i]
		return &s
	}
	if symbol, ok := d.aliases[normalized]; ok {
		s := d.stocks[d.bySymbol[symbol]]
		return &s
	}
	return nil
}

// Stocks returns the reference records, in catalog order.
func (d *Directory) Stocks() []model.Stock {
	out := make([]model.Stock, len(d.stocks))
	copy(out, d.stocks)
	return out
}

// NameList returns "Name (SYMBOL)" labels for interpreter prompts.
func (d *Directory) NameList() []string {
	out := make([]string, len(d.stocks))
	for i, s := range d.stocks {
		out[i] = fmt.Sprintf("%s (%s)", s.Name, s.Symbol)
	}
	return out
}

// Aliases returns the lowercased alias terms, longest first, for the
// rule-based interpreter's substring scan. Longer terms win so that
// "阿里巴巴" is matched before "阿里".
func (d *Directory) Aliases() []string {
	terms := make([]string, 0, len(d.aliases)+2*len(d.stocks))
	for alias := range d.aliases {
		terms = append(terms, alias)
	}
	for _, s := range d.stocks {
		terms = append(terms, strings.ToLower(s.Symbol), strings.ToLower(s.Name))
	}
	sort.Slice(terms, func(i, j int) bool { return len(terms[i]) > len(terms[j]) })
	return terms
}
