package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	p := Pagination{}.Normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.Limit)

	p = Pagination{Page: -3, Limit: 10000}.Normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 250, p.Limit)
}

func TestOffset(t *testing.T) {
	assert.Equal(t, 0, Pagination{Page: 1, Limit: 20}.Offset())
	assert.Equal(t, 40, Pagination{Page: 3, Limit: 20}.Offset())
}

func TestBuildPageInfo(t *testing.T) {
	info := BuildPageInfo(Pagination{Page: 1, Limit: 20}, 45)
	assert.True(t, info.HasMore)
	assert.EqualValues(t, 45, info.TotalCount)

	info = BuildPageInfo(Pagination{Page: 3, Limit: 20}, 45)
	assert.False(t, info.HasMore)
}
