package urlpath

import (
	"net/http"
	"strconv"

	"github.com/tombola-games/tombola/he"
)

// IDPathValue extracts the "id" path variable from the request and parses it.
func IDPathValue(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return -1, he.HTTPCodedErrorf(400, "can't parse id from url path: %v", err)
	}
	return id, nil
}
