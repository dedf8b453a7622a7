package handlers

import (
	"io"
	"net/http"
)

// HandleRobotsTXT tells crawlers there is nothing here for them.  The API
// is all POSTs and per-client state; indexing it helps no one.
func HandleRobotsTXT(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	data := []string{
		"User-agent: *",
		"Disallow: /",
	}
	for _, line := range data {
		io.WriteString(w, line+"\r\n")
	}
}
