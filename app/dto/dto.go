// Package dto holds the request and response shapes of the HTTP API
package dto

// APIResponse is the envelope of every JSON response
type APIResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
	// RequestID echoes the X-Request-ID assigned by the router
	RequestID string `json:"request_id,omitempty"`
}

// ErrorDetail carries a stable machine-readable code. Details is a
// field -> message map for validation failures.
type ErrorDetail struct {
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// PageRequest is the page/page_size pair of the list endpoints; page is 1-based
type PageRequest struct {
	Page     int `json:"page,omitempty"`
	PageSize int `json:"page_size,omitempty"`
}

// Bounds clamps the request and returns the page, the page size and the row offset
func (p PageRequest) Bounds(defaultSize, maxSize int) (page, size, offset int) {
	page, size = p.Page, p.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultSize
	}
	if size > maxSize {
		size = maxSize
	}
	return page, size, (page - 1) * size
}

// PageInfo is embedded in list responses
type PageInfo struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

func NewPageInfo(total int64, page, size int) PageInfo {
	pages := 0
	if size > 0 {
		pages = int((total + int64(size) - 1) / int64(size))
	}
	return PageInfo{Total: total, Page: page, PageSize: size, TotalPages: pages}
}

// ExportFile is a generated download
type ExportFile struct {
	Filename    string
	ContentType string
	Content     []byte
}
