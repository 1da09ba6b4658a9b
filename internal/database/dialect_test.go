package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const canonical = "SELECT `region`, SUM(`amount`) AS `sum_amount` FROM `sales` WHERE `amount` BETWEEN ? AND ? AND `region` IN (?, ?) GROUP BY `region` ORDER BY `region` ASC LIMIT 1000"

func TestRebind(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		want    string
	}{
		{
			name:    "mysql is canonical",
			dialect: MySQLDialect,
			want:    canonical,
		},
		{
			name:    "postgresql",
			dialect: PostgreSQLDialect,
			want:    `SELECT "region", SUM("amount") AS "sum_amount" FROM "sales" WHERE "amount" BETWEEN $1 AND $2 AND "region" IN ($3, $4) GROUP BY "region" ORDER BY "region" ASC LIMIT 1000`,
		},
		{
			name:    "oracle",
			dialect: OracleDialect,
			want:    `SELECT "region", SUM("amount") AS "sum_amount" FROM "sales" WHERE "amount" BETWEEN :1 AND :2 AND "region" IN (:3, :4) GROUP BY "region" ORDER BY "region" ASC FETCH FIRST 1000 ROWS ONLY`,
		},
		{
			name:    "sqlite",
			dialect: SQLiteDialect,
			want:    `SELECT "region", SUM("amount") AS "sum_amount" FROM "sales" WHERE "amount" BETWEEN ? AND ? AND "region" IN (?, ?) GROUP BY "region" ORDER BY "region" ASC LIMIT 1000`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.dialect.Rebind(canonical))
		})
	}
}

func TestRebindEscapedIdentifiers(t *testing.T) {
	got := PostgreSQLDialect.Rebind("SELECT `we``ird`, `quo\"te` FROM `t` WHERE `x` = ?")
	assert.Equal(t, `SELECT "we`+"`"+`ird", "quo""te" FROM "t" WHERE "x" = $1`, got)
}

func TestRebindLeavesQuestionMarksInLiterals(t *testing.T) {
	got := PostgreSQLDialect.Rebind("SELECT 'why?' FROM `t` WHERE `x` = ?")
	assert.Equal(t, `SELECT 'why?' FROM "t" WHERE "x" = $1`, got)
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, "`sales`", QuoteIdentifier("sales"))
	assert.Equal(t, "`analytics`.`sales`", QuoteIdentifier("analytics.sales"))
	assert.Equal(t, "`a``b`", QuoteIdentifier("a`b"))
}
