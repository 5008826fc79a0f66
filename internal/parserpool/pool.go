// Package parserpool hands out reusable tree-sitter parsers per language.
// Each language has a hard cap; parsers are created lazily and acquisition
// past the cap fails fast with ErrExhausted instead of blocking.
package parserpool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// DefaultCap is the per-language parser limit used when none is given.
const DefaultCap = 8

var (
	// ErrExhausted is returned when every parser of a language is in use.
	ErrExhausted = errors.New("parser pool exhausted")

	// ErrUnknownLanguage is returned for languages never registered.
	ErrUnknownLanguage = errors.New("language not registered with parser pool")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("parser pool closed")
)

// Stats reports pool usage for one language.
type Stats struct {
	Created int `json:"created"`
	Idle    int `json:"idle"`
	InUse   int `json:"inUse"`
	Cap     int `json:"cap"`
}

type languagePool struct {
	lang *tree_sitter.Language
	idle []*tree_sitter.Parser
	all  int
}

type owner struct {
	language string
	inUse    bool
}

// Pool is safe for concurrent use.
type Pool struct {
	mu     sync.Mutex
	cap    int
	langs  map[string]*languagePool
	owners map[*tree_sitter.Parser]*owner
	closed bool
	logger *slog.Logger
}

// New returns an empty pool allowing up to capPerLanguage live parsers per
// language. A non-positive cap selects DefaultCap.
func New(capPerLanguage int, logger *slog.Logger) *Pool {
	if capPerLanguage <= 0 {
		capPerLanguage = DefaultCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cap:    capPerLanguage,
		langs:  make(map[string]*languagePool),
		owners: make(map[*tree_sitter.Parser]*owner),
		logger: logger,
	}
}

// Cap returns the per-language parser limit.
func (p *Pool) Cap() int {
	return p.cap
}

// Register makes lang available under name. Registering a name twice
// replaces the grammar for parsers created afterwards.
func (p *Pool) Register(name string, lang *tree_sitter.Language) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if lp, ok := p.langs[name]; ok {
		lp.lang = lang
		return
	}
	p.langs[name] = &languagePool{lang: lang}
}

// Acquire returns an idle parser for language, creating one while under
// the cap. The caller must Release it when done.
func (p *Pool) Acquire(language string) (*tree_sitter.Parser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	lp, ok := p.langs[language]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLanguage, language)
	}

	if n := len(lp.idle); n > 0 {
		parser := lp.idle[n-1]
		lp.idle = lp.idle[:n-1]
		p.owners[parser].inUse = true
		return parser, nil
	}

	if lp.all >= p.cap {
		return nil, fmt.Errorf("%w: %s (%d in use)", ErrExhausted, language, lp.all)
	}

	parser := tree_sitter.NewParser()
	if err := parser.SetLanguage(lp.lang); err != nil {
		parser.Close()
		return nil, fmt.Errorf("set language %s: %w", language, err)
	}
	lp.all++
	p.owners[parser] = &owner{language: language, inUse: true}
	p.logger.Debug("created parser", "language", language, "live", lp.all)
	return parser, nil
}

// Release returns parser to the pool. Releasing a parser the pool did not
// hand out, or one already released, is logged and ignored.
func (p *Pool) Release(parser *tree_sitter.Parser) {
	if parser == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.owners[parser]
	if !ok {
		p.logger.Warn("release of parser not owned by pool ignored")
		return
	}
	if !o.inUse {
		p.logger.Warn("parser released twice", "language", o.language)
		return
	}
	o.inUse = false
	parser.Reset()
	lp := p.langs[o.language]
	lp.idle = append(lp.idle, parser)
}

// Stats returns usage for language.
func (p *Pool) Stats(language string) Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	lp, ok := p.langs[language]
	if !ok {
		return Stats{Cap: p.cap}
	}
	return Stats{
		Created: lp.all,
		Idle:    len(lp.idle),
		InUse:   lp.all - len(lp.idle),
		Cap:     p.cap,
	}
}

// Close destroys every parser created by the pool. Parsers still held by
// callers are destroyed as well and must not be used afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	for parser := range p.owners {
		parser.Close()
	}
	p.owners = make(map[*tree_sitter.Parser]*owner)
	for _, lp := range p.langs {
		lp.idle = nil
		lp.all = 0
	}
	p.closed = true
	return nil
}
