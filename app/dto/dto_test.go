package dto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageRequest_Bounds(t *testing.T) {
	tests := []struct {
		name               string
		req                PageRequest
		page, size, offset int
	}{
		{"zero value uses defaults", PageRequest{}, 1, 20, 0},
		{"negative page", PageRequest{Page: -3, PageSize: 10}, 1, 10, 0},
		{"third page", PageRequest{Page: 3, PageSize: 25}, 3, 25, 50},
		{"size clamped", PageRequest{Page: 2, PageSize: 5000}, 2, 500, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, size, offset := tt.req.Bounds(20, 500)
			assert.Equal(t, tt.page, page)
			assert.Equal(t, tt.size, size)
			assert.Equal(t, tt.offset, offset)
		})
	}
}

func TestNewPageInfo(t *testing.T) {
	assert.Equal(t, PageInfo{Total: 0, Page: 1, PageSize: 20, TotalPages: 0}, NewPageInfo(0, 1, 20))
	assert.Equal(t, 3, NewPageInfo(41, 1, 20).TotalPages)
	assert.Equal(t, 2, NewPageInfo(40, 2, 20).TotalPages)
	assert.Equal(t, 0, NewPageInfo(10, 1, 0).TotalPages)
}
