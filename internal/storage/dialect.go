package storage

import (
	"strconv"
	"strings"
)

// dialect isolates the SQL differences between the supported drivers.
// Queries are written with ? placeholders and rebound on the way out.
type dialect struct {
	name         string
	driver       string
	numbered     bool
	upsertSuffix func(conflict []string, update []string) string
	schema       []string
	sourceSchema []string
}

func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '\'' {
			inQuote = !inQuote
		}
		if ch == '?' && !inQuote {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func onConflict(conflict []string, update []string) string {
	sets := make([]string, len(update))
	for i, col := range update {
		sets[i] = col + " = EXCLUDED." + col
	}
	return " ON CONFLICT (" + strings.Join(conflict, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

func onDuplicateKey(_ []string, update []string) string {
	sets := make([]string, len(update))
	for i, col := range update {
		sets[i] = col + " = VALUES(" + col + ")"
	}
	return " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
