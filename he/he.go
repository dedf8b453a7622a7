package he

import (
	"errors"
	"fmt"
	"log" // all kids love log
	"net/http"
)

// HTTPError carries an HTTP status alongside an ordinary error so storage
// and handlers can agree on what "not found" means without importing each
// other.
type HTTPError struct {
	code int
	err  error
}

func HTTPCodedErrorf(code int, f string, more ...any) *HTTPError {
	return &HTTPError{
		code: code,
		err:  fmt.Errorf(f, more...),
	}
}

func New(code int, err error) *HTTPError {
	return &HTTPError{
		code: code,
		err:  err,
	}
}

func (e *HTTPError) Error() string {
	return e.err.Error()
}

func (e *HTTPError) Unwrap() error {
	return e.err
}

// Code extracts the HTTP status from err, or 500 if it isn't one of ours.
func Code(err error) int {
	var coded *HTTPError
	if errors.As(err, &coded) {
		return coded.code
	}
	return http.StatusInternalServerError
}

// IsNotFound reports whether err is a coded 404.
func IsNotFound(err error) bool {
	var coded *HTTPError
	return errors.As(err, &coded) && coded.code == http.StatusNotFound
}

// SendErrorToHTTPClient sends err as an HTTP error.  If it happens to be our
// special HTTPError, we can include a better response code; otherwise,
// client gets 500 and it's on us.
func SendErrorToHTTPClient(w http.ResponseWriter, while string, err error) {
	txt := fmt.Sprintf("can't %s: %v", while, err)
	log.Println(txt)
	http.Error(w, txt, Code(err))
}
