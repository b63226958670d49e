// Package querystring owns the free-text query of a query state.
package querystring

import (
	"fmt"
	"strings"
	"sync"

	querystate "github.com/goliatone/go-query-state"
	"github.com/goliatone/go-query-state/pkg/observable"
)

// DefaultLanguage is used when neither the query nor the manager names one.
const DefaultLanguage = "kuery"

// Validator rejects queries that cannot be run.
type Validator interface {
	Validate(querystate.Query) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(querystate.Query) error

// Validate implements Validator.
func (f ValidatorFunc) Validate(query querystate.Query) error {
	if f == nil {
		return nil
	}
	return f(query)
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultLanguage sets the language of the default query.
func WithDefaultLanguage(language string) Option {
	return func(m *Manager) {
		if language = strings.TrimSpace(language); language != "" {
			m.language = language
		}
	}
}

// WithValidator rejects queries before they are stored.
func WithValidator(validator Validator) Option {
	return func(m *Manager) {
		m.validator = validator
	}
}

// Manager implements querystate.QueryService.
type Manager struct {
	mu        sync.RWMutex
	language  string
	validator Validator
	query     querystate.Query
	updates   observable.Subject[querystate.Query]
}

var _ querystate.QueryService = (*Manager)(nil)

// NewManager returns a manager holding the default query.
func NewManager(opts ...Option) *Manager {
	m := &Manager{language: DefaultLanguage}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.query = m.GetDefaultQuery()
	return m
}

// GetDefaultQuery returns an empty query in the default language.
func (m *Manager) GetDefaultQuery() querystate.Query {
	return querystate.Query{Query: "", Language: m.language}
}

// FormatQuery fills in the default language when query has none.
func (m *Manager) FormatQuery(query querystate.Query) querystate.Query {
	if strings.TrimSpace(query.Language) == "" {
		query.Language = m.language
	}
	return query
}

// GetQuery returns the current query.
func (m *Manager) GetQuery() querystate.Query {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.query
}

// SetQuery validates and stores query, notifying listeners when it changed.
func (m *Manager) SetQuery(query querystate.Query) error {
	query = m.FormatQuery(query)
	if m.validator != nil && strings.TrimSpace(query.Query) != "" {
		if err := m.validator.Validate(query); err != nil {
			return fmt.Errorf("querystring: invalid %s query: %w", query.Language, err)
		}
	}

	m.mu.Lock()
	if m.query == query {
		m.mu.Unlock()
		return nil
	}
	m.query = query
	m.mu.Unlock()
	return m.updates.Emit(query)
}

// ClearQuery resets the query to the default.
func (m *Manager) ClearQuery() error {
	return m.SetQuery(m.GetDefaultQuery())
}

// Subscribe registers listener for query changes.
func (m *Manager) Subscribe(listener observable.Listener[querystate.Query]) *observable.Subscription {
	return m.updates.Subscribe(listener)
}
