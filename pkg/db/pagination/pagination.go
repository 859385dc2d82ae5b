package pagination

// Pagination carries page/limit query parameters.
type Pagination struct {
	Page  int `form:"page,default=1" validate:"gte=1"`
	Limit int `form:"limit,default=20" validate:"gte=1,lte=250"` // Min 1, Max 250
}

// PageInfo describes the slice of results returned.
type PageInfo struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalCount int64 `json:"total_count"`
	HasMore    bool  `json:"has_more"`
}

// Normalize clamps pagination parameters to sane values.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = 20
	}
	if p.Limit > 250 {
		p.Limit = 250
	}
	return p
}

// Offset returns the row offset for the current page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

// BuildPageInfo computes paging metadata from a total row count.
func BuildPageInfo(p Pagination, total int64) PageInfo {
	return PageInfo{
		Page:       p.Page,
		Limit:      p.Limit,
		TotalCount: total,
		HasMore:    int64(p.Page*p.Limit) < total,
	}
}
