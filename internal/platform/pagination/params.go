package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
)

const (
	// DefaultPageSize is used when the client omits pageSize.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps pageSize to keep list queries bounded.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Options control Parse defaults per endpoint.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// FromRequest parses pageSize and pageToken from the request query.
func FromRequest(r *http.Request, opts Options) (domain.Pagination, error) {
	if r == nil {
		return domain.Pagination{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse validates pageSize and pageToken. Oversized pages are clamped rather than rejected.
func Parse(values url.Values, opts Options) (domain.Pagination, error) {
	maxSize := opts.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	size := opts.DefaultPageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	size = min(size, maxSize)

	if raw := strings.TrimSpace(values.Get("pageSize")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return domain.Pagination{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		}
		if parsed <= 0 {
			return domain.Pagination{}, fmt.Errorf("%w: must be positive", ErrInvalidPageSize)
		}
		size = min(parsed, maxSize)
	}

	token := strings.TrimSpace(values.Get("pageToken"))
	if token != "" {
		if _, err := DecodeCursor(token); err != nil {
			return domain.Pagination{}, err
		}
	}
	return domain.Pagination{PageSize: size, PageToken: token}, nil
}

// Normalize fills in the default page size.
func Normalize(pager domain.Pagination) domain.Pagination {
	if pager.PageSize <= 0 {
		pager.PageSize = DefaultPageSize
	}
	if pager.PageSize > DefaultMaxPageSize {
		pager.PageSize = DefaultMaxPageSize
	}
	return pager
}
