package models

// Pageable echoes the requested page window.
type Pageable struct {
	PageNumber int `json:"pageNumber"`
	PageSize   int `json:"pageSize"`
}

// Page is the paginated list envelope returned by every list endpoint.
type Page[T any] struct {
	Content       []T      `json:"content"`
	Pageable      Pageable `json:"pageable"`
	TotalElements int64    `json:"totalElements"`
	TotalPages    int      `json:"totalPages"`
	Size          int      `json:"size"`
	Number        int      `json:"number"`
	First         bool     `json:"first"`
	Last          bool     `json:"last"`
	Empty         bool     `json:"empty"`
}

// NewPage builds the envelope for content taken from page (0-based) of the
// given size out of total rows.
func NewPage[T any](content []T, page, size int, total int64) Page[T] {
	if content == nil {
		content = []T{}
	}
	totalPages := 0
	if size > 0 {
		totalPages = int((total + int64(size) - 1) / int64(size))
	}
	return Page[T]{
		Content:       content,
		Pageable:      Pageable{PageNumber: page, PageSize: size},
		TotalElements: total,
		TotalPages:    totalPages,
		Size:          size,
		Number:        page,
		First:         page == 0,
		Last:          page+1 >= totalPages,
		Empty:         len(content) == 0,
	}
}

// PageRequest is a validated page/size pair.
type PageRequest struct {
	Page int
	Size int
}

func (p PageRequest) Offset() int { return p.Page * p.Size }
