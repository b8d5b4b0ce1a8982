package schema

import (
	"fmt"
	"strings"
)

type Schema struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Tables      []TableInfo `json:"tables"`
}

type TableInfo struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Columns     []ColumnInfo `json:"columns"`
	// PartitionBy lists the columns that become directory levels, outermost first.
	PartitionBy []string `json:"partition_by,omitempty"`
	// Keys are the intended natural or surrogate key columns. They are not enforced.
	Keys []string `json:"keys,omitempty"`
}

type ColumnInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

func (s Schema) Table(name string) (TableInfo, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableInfo{}, false
}

func (t TableInfo) Column(name string) (ColumnInfo, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnInfo{}, false
}

func (t TableInfo) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	return names
}

// ColumnList returns the column names joined for a SELECT list.
func (t TableInfo) ColumnList() string {
	return strings.Join(t.ColumnNames(), ", ")
}

func (t TableInfo) Partitioned() bool {
	return len(t.PartitionBy) > 0
}

// HiveTypes renders the partition column types as a struct literal for the engine's hive_types
// option, so partition values are reconstituted with their declared types instead of guessed ones.
func (t TableInfo) HiveTypes() (string, error) {
	parts := make([]string, 0, len(t.PartitionBy))
	for _, name := range t.PartitionBy {
		col, ok := t.Column(name)
		if !ok {
			return "", fmt.Errorf("table %s: partition column %s is not a table column", t.Name, name)
		}
		parts = append(parts, fmt.Sprintf("'%s': %s", col.Name, col.Type))
	}
	return "{" + strings.Join(parts, ", ") + "}", nil
}
