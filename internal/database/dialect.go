package database

import (
	"regexp"
	"strconv"
	"strings"
)

// PlaceholderStyle is how a driver expects bound parameters to be written
type PlaceholderStyle int

const (
	// PlaceholderQuestion is "?" (mysql, clickhouse, snowflake, sqlite)
	PlaceholderQuestion PlaceholderStyle = iota
	// PlaceholderDollar is "$1, $2" (postgresql)
	PlaceholderDollar
	// PlaceholderColon is ":1, :2" (oracle)
	PlaceholderColon
)

// LimitStyle is how a row limit is expressed
type LimitStyle int

const (
	LimitClause LimitStyle = iota
	LimitFetchFirst
)

// Dialect describes the SQL surface differences between data source types.
//
// Statements are produced in a canonical form: identifiers quoted with
// backticks, parameters written as "?" and a trailing "LIMIT n". Rebind
// converts canonical text into the dialect's own form.
type Dialect struct {
	Name        string
	QuoteOpen   byte
	QuoteClose  byte
	Placeholder PlaceholderStyle
	Limit       LimitStyle
}

var (
	MySQLDialect      = Dialect{Name: "mysql", QuoteOpen: '`', QuoteClose: '`', Placeholder: PlaceholderQuestion}
	PostgreSQLDialect = Dialect{Name: "postgresql", QuoteOpen: '"', QuoteClose: '"', Placeholder: PlaceholderDollar}
	OracleDialect     = Dialect{Name: "oracle", QuoteOpen: '"', QuoteClose: '"', Placeholder: PlaceholderColon, Limit: LimitFetchFirst}
	ClickHouseDialect = Dialect{Name: "clickhouse", QuoteOpen: '`', QuoteClose: '`', Placeholder: PlaceholderQuestion}
	SnowflakeDialect  = Dialect{Name: "snowflake", QuoteOpen: '"', QuoteClose: '"', Placeholder: PlaceholderQuestion}
	SQLiteDialect     = Dialect{Name: "sqlite", QuoteOpen: '"', QuoteClose: '"', Placeholder: PlaceholderQuestion}
)

var trailingLimit = regexp.MustCompile(`\sLIMIT (\d+)$`)

// QuoteIdentifier quotes a single identifier in canonical (backtick) form.
// A dotted name is quoted part by part.
func QuoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = "`" + strings.ReplaceAll(part, "`", "``") + "`"
	}
	return strings.Join(parts, ".")
}

// Rebind rewrites a canonical statement for this dialect
func (d Dialect) Rebind(query string) string {
	if d.Limit == LimitFetchFirst {
		query = trailingLimit.ReplaceAllString(query, " FETCH FIRST $1 ROWS ONLY")
	}
	if d.QuoteOpen == '`' && d.Placeholder == PlaceholderQuestion {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 10)
	param := 0

	for i := 0; i < len(query); i++ {
		c := query[i]
		switch c {
		case '`':
			sb.WriteByte(d.QuoteOpen)
			i++
			for ; i < len(query); i++ {
				if query[i] == '`' {
					if i+1 < len(query) && query[i+1] == '`' {
						sb.WriteByte('`')
						i++
						continue
					}
					break
				}
				if query[i] == d.QuoteClose {
					sb.WriteByte(d.QuoteClose)
				}
				sb.WriteByte(query[i])
			}
			sb.WriteByte(d.QuoteClose)
		case '\'':
			// copy string literals untouched
			sb.WriteByte(c)
			for i++; i < len(query); i++ {
				sb.WriteByte(query[i])
				if query[i] == '\'' {
					break
				}
			}
		case '?':
			param++
			switch d.Placeholder {
			case PlaceholderDollar:
				sb.WriteByte('$')
				sb.WriteString(strconv.Itoa(param))
			case PlaceholderColon:
				sb.WriteByte(':')
				sb.WriteString(strconv.Itoa(param))
			default:
				sb.WriteByte('?')
			}
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
