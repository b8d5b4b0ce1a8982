package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/malbeclabs/playlake/pkg/duck"
)

// Validate checks that relation (any expression usable after FROM) has exactly the columns and
// types declared for table.
func Validate(ctx context.Context, conn duck.Connection, table TableInfo, relation string) error {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf("DESCRIBE SELECT * FROM %s", relation))
	if err != nil {
		return fmt.Errorf("failed to describe %s: %w", table.Name, err)
	}
	defer rows.Close()

	actual := make(map[string]string)
	for rows.Next() {
		var name, dataType string
		var null, key, dflt, extra sql.NullString
		if err := rows.Scan(&name, &dataType, &null, &key, &dflt, &extra); err != nil {
			return fmt.Errorf("failed to scan schema row: %w", err)
		}
		actual[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating schema rows: %w", err)
	}

	var problems []string
	for _, col := range table.Columns {
		got, ok := actual[col.Name]
		if !ok {
			problems = append(problems, fmt.Sprintf("table %s, column %s: declared but not present", table.Name, col.Name))
			continue
		}
		if !strings.EqualFold(got, col.Type) {
			problems = append(problems, fmt.Sprintf("table %s, column %s: type %s, want %s", table.Name, col.Name, got, col.Type))
		}
	}
	for name := range actual {
		if _, ok := table.Column(name); !ok {
			problems = append(problems, fmt.Sprintf("table %s, column %s: present but not declared", table.Name, name))
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("schema validation failed:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}
