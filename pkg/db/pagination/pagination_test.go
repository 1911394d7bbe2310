package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeClampsValues(t *testing.T) {
	p := Pagination{Page: 0, Limit: 1000}.Normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, MaxLimit, p.Limit)
}

func TestOffsetAndPageInfo(t *testing.T) {
	p := Pagination{Page: 3, Limit: 20}
	assert.Equal(t, 40, p.Offset())

	info := BuildPageInfo(p, 41)
	assert.Equal(t, 3, info.TotalPages)
	assert.Equal(t, int64(41), info.Total)

	empty := BuildPageInfo(p, 0)
	assert.Equal(t, 0, empty.TotalPages)
}
