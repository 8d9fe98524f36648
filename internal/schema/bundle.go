// Package schema exposes the embedded ledger DDL bundles for the durable
// persistence adapters.
package schema

import (
	"bufio"
	_ "embed"
	"strings"
)

//go:embed postgres.sql
var postgresDDL string

//go:embed sqlite.sql
var sqliteDDL string

// Postgres returns the range-partitioned Postgres DDL for the ledger.
func Postgres() string {
	return postgresDDL
}

// SQLite returns the SQLite DDL for the ledger.
func SQLite() string {
	return sqliteDDL
}

// SplitStatements splits a semicolon-terminated DDL script into executable
// statements. It drops blank lines and single-line comments that start with
// "--".
func SplitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var stmts []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}

	if tail := strings.TrimSpace(current.String()); tail != "" {
		stmts = append(stmts, tail)
	}

	return stmts
}

// PartitionDDL renders the CREATE TABLE statements attaching a month
// partition to the partitioned Postgres ledger tables.
func PartitionDDL(table, month, from, to string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ladm.")
	b.WriteString(table)
	b.WriteString("_")
	b.WriteString(strings.ReplaceAll(month, "-", "_"))
	b.WriteString(" PARTITION OF ladm.")
	b.WriteString(table)
	b.WriteString(" FOR VALUES FROM ('")
	b.WriteString(from)
	b.WriteString("') TO ('")
	b.WriteString(to)
	b.WriteString("');")
	return b.String()
}
