package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultComponentsTable = "schema_components"

// ErrNothingInstalled is returned by Down when no registered component is installed.
var ErrNothingInstalled = errors.New("migrate: no components installed")

// Component is a store whose persistent structure can be created and dropped.
type Component interface {
	Install(ctx context.Context) error
	Remove(ctx context.Context) error
}

// Status describes one registered component.
type Status struct {
	Name        string
	Installed   bool
	InstalledAt time.Time
}

type registered struct {
	name string
	comp Component
}

// Manager installs registered components in order and records what it
// installed in a bookkeeping table.
type Manager struct {
	db         *sql.DB
	table      string
	components []registered
}

// Option configures Manager.
type Option func(*Manager)

// WithComponentsTable overrides the default bookkeeping table.
func WithComponentsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.table = name
		}
	}
}

// NewManager constructs a Manager.
func NewManager(db *sql.DB, opts ...Option) (*Manager, error) {
	if db == nil {
		return nil, errors.New("migrate: database is required")
	}
	m := &Manager{db: db, table: defaultComponentsTable}
	for _, opt := range opts {
		opt(m)
	}
	if !validIdent(m.table) {
		return nil, fmt.Errorf("migrate: invalid table name %q", m.table)
	}
	return m, nil
}

// Register adds a component. Components install in registration order and
// are removed in reverse.
func (m *Manager) Register(name string, c Component) error {
	name = strings.TrimSpace(name)
	if name == "" || c == nil {
		return errors.New("migrate: component name and implementation are required")
	}
	for _, r := range m.components {
		if r.name == name {
			return fmt.Errorf("migrate: component %q already registered", name)
		}
	}
	m.components = append(m.components, registered{name: name, comp: c})
	return nil
}

// Up installs every registered component that is not yet recorded and
// returns the names it installed.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	installed, err := m.history(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(installed))
	for _, s := range installed {
		done[s.Name] = true
	}
	var applied []string
	for _, r := range m.components {
		if done[r.name] {
			continue
		}
		if err := r.comp.Install(ctx); err != nil {
			return applied, fmt.Errorf("install %s: %w", r.name, err)
		}
		if err := m.insertRecord(ctx, r.name); err != nil {
			return applied, err
		}
		applied = append(applied, r.name)
	}
	return applied, nil
}

// Down removes the most recently installed registered component.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return "", err
	}
	installed, err := m.history(ctx)
	if err != nil {
		return "", err
	}
	for i := len(installed) - 1; i >= 0; i-- {
		r, ok := m.lookup(installed[i].Name)
		if !ok {
			continue
		}
		if err := r.comp.Remove(ctx); err != nil {
			return "", fmt.Errorf("remove %s: %w", r.name, err)
		}
		if _, err := m.db.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.table), r.name); err != nil {
			return "", err
		}
		return r.name, nil
	}
	return "", ErrNothingInstalled
}

// Reset removes every installed component, newest first.
func (m *Manager) Reset(ctx context.Context) ([]string, error) {
	var removed []string
	for {
		name, err := m.Down(ctx)
		if errors.Is(err, ErrNothingInstalled) {
			return removed, nil
		}
		if err != nil {
			return removed, err
		}
		removed = append(removed, name)
	}
}

// Status reports every registered component in registration order.
func (m *Manager) Status(ctx context.Context) ([]Status, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	installed, err := m.history(ctx)
	if err != nil {
		return nil, err
	}
	at := make(map[string]time.Time, len(installed))
	for _, s := range installed {
		at[s.Name] = s.InstalledAt
	}
	out := make([]Status, 0, len(m.components))
	for _, r := range m.components {
		ts, ok := at[r.name]
		out = append(out, Status{Name: r.name, Installed: ok, InstalledAt: ts})
	}
	return out, nil
}

func (m *Manager) lookup(name string) (registered, bool) {
	for _, r := range m.components {
		if r.name == name {
			return r, true
		}
	}
	return registered{}, false
}

func (m *Manager) ensureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			installed_at timestamptz not null default now()
		)`, m.table)
	_, err := m.db.ExecContext(ctx, ddl)
	return err
}

func (m *Manager) insertRecord(ctx context.Context, name string) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`insert into %s(name, installed_at) values ($1, $2)`, m.table),
		name, time.Now().UTC())
	return err
}

func (m *Manager) history(ctx context.Context) ([]Status, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name, installed_at from %s order by installed_at asc`, m.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Status
	for rows.Next() {
		s := Status{Installed: true}
		if err := rows.Scan(&s.Name, &s.InstalledAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func validIdent(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
