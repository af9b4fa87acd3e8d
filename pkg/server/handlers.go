package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/dd0wney/cluso-subchain/pkg/subchain"
)

// graphqlRequest is the POST body of /graphql
type graphqlRequest struct {
	Query string `json:"query"`
}

// handleGraphQL runs one query against the current client. Query errors are part of a 200
// response; 503 means no replica is bound yet.
func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	text, err := queryText(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, subchain.ErrorResult(err))
		return
	}

	c := s.provider.Current()
	if c == nil {
		writeJSON(w, http.StatusServiceUnavailable, subchain.LoadingResult())
		return
	}
	writeJSON(w, http.StatusOK, c.QueryContext(r.Context(), text))
}

func queryText(w http.ResponseWriter, r *http.Request) (string, error) {
	if r.Method == http.MethodGet {
		if q := r.URL.Query().Get("query"); q != "" {
			return q, nil
		}
		return "", errors.New("missing query parameter")
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/graphql" {
		if len(body) == 0 {
			return "", errors.New("empty query")
		}
		return string(body), nil
	}

	var req graphqlRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", errors.New("invalid request body: " + err.Error())
	}
	if req.Query == "" {
		return "", errors.New("empty query")
	}
	return req.Query, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
