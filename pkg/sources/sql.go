// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sources

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// sqlIdent guards interpolated identifiers. Table and column names come
// from config, not user input, but they still must be plain identifiers.
var sqlIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLTableConfig maps one database table onto documents.
type SQLTableConfig struct {
	// Table is the table or view to read.
	Table string `yaml:"table"`

	// IDColumn uniquely identifies a row.
	IDColumn string `yaml:"id_column"`

	// ContentColumns are concatenated into the document text.
	ContentColumns []string `yaml:"content_columns"`

	// TitleColumn supplies the document title when set.
	TitleColumn string `yaml:"title_column,omitempty"`

	// CreatedColumn supplies the document timestamp when set.
	CreatedColumn string `yaml:"created_column,omitempty"`

	// MetadataColumns are carried into SourceMeta by column name.
	MetadataColumns []string `yaml:"metadata_columns,omitempty"`

	// Where filters rows. Appended verbatim to the query.
	Where string `yaml:"where,omitempty"`

	// MaxRows caps how many rows are read. Zero means all.
	MaxRows int `yaml:"max_rows,omitempty"`
}

// Validate checks the table mapping.
func (c *SQLTableConfig) Validate() error {
	if c.Table == "" {
		return fmt.Errorf("sql source: table is required")
	}
	if c.IDColumn == "" {
		return fmt.Errorf("sql source %s: id_column is required", c.Table)
	}
	if len(c.ContentColumns) == 0 {
		return fmt.Errorf("sql source %s: content_columns is required", c.Table)
	}
	idents := append([]string{c.Table, c.IDColumn}, c.ContentColumns...)
	if c.TitleColumn != "" {
		idents = append(idents, c.TitleColumn)
	}
	if c.CreatedColumn != "" {
		idents = append(idents, c.CreatedColumn)
	}
	idents = append(idents, c.MetadataColumns...)
	for _, ident := range idents {
		if !sqlIdent.MatchString(ident) {
			return fmt.Errorf("sql source %s: invalid identifier %q", c.Table, ident)
		}
	}
	return nil
}

// columns returns the distinct column list for the SELECT.
func (c *SQLTableConfig) columns() []string {
	seen := map[string]bool{}
	var cols []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			cols = append(cols, name)
		}
	}
	add(c.IDColumn)
	add(c.TitleColumn)
	add(c.CreatedColumn)
	for _, col := range c.ContentColumns {
		add(col)
	}
	for _, col := range c.MetadataColumns {
		add(col)
	}
	return cols
}

// RowDocument is one database row rendered as ingestable content.
type RowDocument struct {
	// ID is "driver:table:rowid", stable across re-ingestion runs.
	ID string

	// Title is the title column value, if configured.
	Title string

	// Text is the content columns joined by blank lines.
	Text string

	// CreatedAt is the created column value, if configured and parseable.
	CreatedAt time.Time

	// Meta holds the metadata column values plus the source table.
	Meta map[string]string
}

// SQLSource streams rows from a user database as documents. The
// connection comes from config.DBPool, so sqlite, postgres, and mysql
// all work through the one code path.
type SQLSource struct {
	db     *sql.DB
	driver string
	tables []SQLTableConfig
}

// NewSQLSource validates the table mappings and returns the source.
func NewSQLSource(db *sql.DB, driver string, tables []SQLTableConfig) (*SQLSource, error) {
	if db == nil {
		return nil, fmt.Errorf("sql source: db is required")
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("sql source: at least one table mapping is required")
	}
	for i := range tables {
		if err := tables[i].Validate(); err != nil {
			return nil, err
		}
	}
	return &SQLSource{db: db, driver: driver, tables: tables}, nil
}

// Documents streams every mapped row. The documents channel closes when
// all tables are read; a failure is reported on the error channel and
// ends the stream.
func (s *SQLSource) Documents(ctx context.Context) (<-chan RowDocument, <-chan error) {
	docs := make(chan RowDocument)
	errs := make(chan error, 1)
	go func() {
		defer close(docs)
		defer close(errs)
		for i := range s.tables {
			if err := s.streamTable(ctx, &s.tables[i], docs); err != nil {
				errs <- err
				return
			}
		}
	}()
	return docs, errs
}

// Read fetches a single row by table and ID, for targeted re-ingestion.
func (s *SQLSource) Read(ctx context.Context, table, id string) (*RowDocument, error) {
	var cfg *SQLTableConfig
	for i := range s.tables {
		if s.tables[i].Table == table {
			cfg = &s.tables[i]
			break
		}
	}
	if cfg == nil {
		return nil, fmt.Errorf("sql source: table %q is not mapped", table)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		strings.Join(cfg.columns(), ", "), cfg.Table, cfg.IDColumn, s.placeholder(1))
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", cfg.Table, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("sql source: row %s:%s not found", table, id)
	}
	doc, err := s.scanRow(cfg, rows)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *SQLSource) streamTable(ctx context.Context, cfg *SQLTableConfig, out chan<- RowDocument) error {
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cfg.columns(), ", "), cfg.Table)
	if cfg.Where != "" {
		query += " WHERE " + cfg.Where
	}
	if cfg.CreatedColumn != "" {
		query += " ORDER BY " + cfg.CreatedColumn
	}
	if cfg.MaxRows > 0 {
		query += fmt.Sprintf(" LIMIT %d", cfg.MaxRows)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query %s: %w", cfg.Table, err)
	}
	defer rows.Close()

	for rows.Next() {
		doc, err := s.scanRow(cfg, rows)
		if err != nil {
			return err
		}
		select {
		case out <- *doc:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read %s: %w", cfg.Table, err)
	}
	return nil
}

// scanRow scans the current row through any-typed holders, then maps
// values back by column name. Drivers disagree on concrete types, so
// conversion happens in sqlValue.
func (s *SQLSource) scanRow(cfg *SQLTableConfig, rows *sql.Rows) (*RowDocument, error) {
	colNames, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(colNames))
	ptrs := make([]any, len(colNames))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan %s: %w", cfg.Table, err)
	}
	byName := make(map[string]any, len(colNames))
	for i, name := range colNames {
		byName[name] = values[i]
	}

	var parts []string
	for _, col := range cfg.ContentColumns {
		if v := sqlValue(byName[col]); strings.TrimSpace(v) != "" {
			parts = append(parts, v)
		}
	}

	doc := &RowDocument{
		ID:   fmt.Sprintf("%s:%s:%s", s.driver, cfg.Table, sqlValue(byName[cfg.IDColumn])),
		Text: strings.Join(parts, "\n\n"),
		Meta: map[string]string{"table": cfg.Table},
	}
	if cfg.TitleColumn != "" {
		doc.Title = sqlValue(byName[cfg.TitleColumn])
	}
	if cfg.CreatedColumn != "" {
		doc.CreatedAt = sqlTime(byName[cfg.CreatedColumn])
	}
	for _, col := range cfg.MetadataColumns {
		if v := sqlValue(byName[col]); v != "" {
			doc.Meta[col] = v
		}
	}
	return doc, nil
}

// placeholder returns the driver's positional parameter marker.
func (s *SQLSource) placeholder(n int) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func sqlValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func sqlTime(v any) time.Time {
	switch val := v.(type) {
	case time.Time:
		return val
	case []byte:
		return parseSQLTime(string(val))
	case string:
		return parseSQLTime(val)
	default:
		return time.Time{}
	}
}

func parseSQLTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
