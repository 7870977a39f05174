package catalog

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Repository SQL is hand-written against the shipped schema; this cross-check
// keeps the column lists and the CREATE TABLE statements from drifting apart.
func TestRepositoryColumnsMatchSchema(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("..", "..", "scripts", "migrate", "schema.sql"))
	require.NoError(t, err)
	schema := string(raw)

	tables := map[string]string{
		"roles":       roleColumns,
		"permissions": permissionColumns,
		"data_scopes": scopeColumns,
	}
	for table, columns := range tables {
		re := regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS ` + table + ` \((.*?)\);`)
		match := re.FindStringSubmatch(schema)
		require.NotNilf(t, match, "table %s not in schema", table)
		for _, column := range strings.Split(columns, ", ") {
			assert.Regexpf(t, `(?m)^\s*`+column+`\s`, match[1], "column %s of %s", column, table)
		}
	}
}
