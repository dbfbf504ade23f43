package engine

import "fmt"

// DBCmd enumerates the statements a store registers in its QueryMap
type DBCmd int

// Query holds one statement in every supported dialect
type Query struct {
	Sqlite   string
	Postgres string
}

// QueryMap resolves a command to its statement text for a concrete engine.
// Stores build one at package init and pick from it on every call.
type QueryMap map[DBCmd]Query

// NewQueryMap creates an empty query map
func NewQueryMap() QueryMap { return QueryMap{} }

// Add registers dialect-specific statements for cmd
func (m QueryMap) Add(cmd DBCmd, q Query) QueryMap {
	m[cmd] = q
	return m
}

// AddSame registers one statement valid in every dialect
func (m QueryMap) AddSame(cmd DBCmd, text string) QueryMap {
	return m.Add(cmd, Query{Sqlite: text, Postgres: text})
}

// Pick returns the statement for the given engine type
func (m QueryMap) Pick(dbType Type, cmd DBCmd) (string, error) {
	q, ok := m[cmd]
	if !ok {
		return "", fmt.Errorf("no query registered for command %d", cmd)
	}
	switch dbType {
	case Sqlite:
		return q.Sqlite, nil
	case Postgres:
		return q.Postgres, nil
	}
	return "", fmt.Errorf("unsupported database type %q", dbType)
}
