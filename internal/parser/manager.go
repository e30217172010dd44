package parser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"hemicycle/internal/metrics"
)

// ErrNoParser is returned for a method no parser is registered for
var ErrNoParser = errors.New("no parser found")

// ParserManager manages different types of parsers
type ParserManager struct {
	parsers map[string]Parser
	metrics *metrics.Metrics
}

// NewParserManager creates a manager with the zip and json parsers writing to w
func NewParserManager(w DeputyWriter, timeout time.Duration, m *metrics.Metrics) (*ParserManager, error) {
	mgr := &ParserManager{
		parsers: make(map[string]Parser),
		metrics: m,
	}

	zipParser, err := NewZIPParser(w, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZIP parser: %w", err)
	}
	mgr.RegisterParser(zipParser)
	mgr.RegisterParser(NewJSONParser(w, timeout))

	return mgr, nil
}

// RegisterParser adds a new parser to the manager
func (m *ParserManager) RegisterParser(parser Parser) {
	m.parsers[parser.Method()] = parser
}

// GetParser retrieves a parser by method
func (m *ParserManager) GetParser(method string) (Parser, error) {
	parser, ok := m.parsers[method]
	if !ok {
		return nil, fmt.Errorf("%w for method: %s", ErrNoParser, method)
	}
	return parser, nil
}

// Methods lists the registered parser methods
func (m *ParserManager) Methods() []string {
	methods := make([]string, 0, len(m.parsers))
	for method := range m.parsers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}

// Sync parses data from a URL using the appropriate parser
func (m *ParserManager) Sync(ctx context.Context, method, url, legislature string) (SyncResult, error) {
	parser, err := m.GetParser(method)
	if err != nil {
		return SyncResult{}, err
	}

	result, err := parser.Parse(ctx, url, legislature)
	m.metrics.AddSynced(result.Saved)
	return result, err
}

// Cleanup performs any necessary cleanup
func (m *ParserManager) Cleanup() {
	for _, p := range m.parsers {
		if err := p.Cleanup(); err != nil {
			log.Printf("Error cleaning up parser: %v", err)
		}
	}
}
