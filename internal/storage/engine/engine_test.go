package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMutation(t *testing.T) {
	mutations := []string{
		"INSERT INTO t VALUES (1)",
		"  update t set x = 1",
		"DELETE FROM t",
		"create table t (id integer)",
		"DROP TABLE t",
		"ALTER TABLE t ADD COLUMN y",
		"REPLACE INTO t VALUES (1)",
		"BEGIN",
		"COMMIT",
		"PRAGMA journal_mode=WAL",
		"-- setup\nINSERT INTO t VALUES (1)",
		"/* comment */ UPDATE t SET x = 1",
	}
	for _, sql := range mutations {
		assert.True(t, IsMutation(sql), sql)
	}

	reads := []string{
		"SELECT * FROM t",
		"  select 1",
		"WITH x AS (SELECT 1) SELECT * FROM x",
		"EXPLAIN QUERY PLAN SELECT 1",
		"-- just a comment",
		"/* unterminated",
		"",
	}
	for _, sql := range reads {
		assert.False(t, IsMutation(sql), sql)
	}
}
