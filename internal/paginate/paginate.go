// Package paginate drives sequential page fetches up to a soft cap.
package paginate

import (
	"context"
	"fmt"
)

const (
	DefaultPageSize = 20
	DefaultSoftCap  = 200
)

// FetchFunc returns one page. page is 1-based. It must be safe to call again
// for the same page after a failure.
type FetchFunc[T any] func(ctx context.Context, page, pageSize int) ([]T, error)

// Options configures Paginate. Non-positive PageSize or SoftCap fall back to
// the defaults.
type Options[T any] struct {
	FetchPage FetchFunc[T]
	PageSize  int
	SoftCap   int
}

// Result holds the accumulated items and the number of non-empty pages fetched.
type Result[T any] struct {
	Items []T
	Pages int
}

// Paginate fetches pages 1, 2, ... one at a time until a page is empty, a page
// is shorter than PageSize, or at least SoftCap items have accumulated. The
// page that crosses SoftCap is kept whole, so Items may exceed it by up to
// PageSize-1. Any fetch error or a cancelled ctx aborts the run without a partial result.
func Paginate[T any](ctx context.Context, opts Options[T]) (*Result[T], error) {
	if opts.FetchPage == nil {
		return nil, fmt.Errorf("paginate: FetchPage is required")
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	softCap := opts.SoftCap
	if softCap <= 0 {
		softCap = DefaultSoftCap
	}

	result := &Result[T]{Items: make([]T, 0, pageSize)}
	for page := 1; len(result.Items) < softCap; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, err := opts.FetchPage(ctx, page, pageSize)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		if len(items) == 0 {
			break
		}

		result.Items = append(result.Items, items...)
		result.Pages++

		if len(items) < pageSize {
			break
		}
	}

	return result, nil
}
