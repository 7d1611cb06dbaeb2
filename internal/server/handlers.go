// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/pdiddy/review-engine/internal/oauth"
	"github.com/pdiddy/review-engine/internal/pipeline"
	"github.com/pdiddy/review-engine/internal/sentiment"
	"github.com/pdiddy/review-engine/pkg/types"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, _ *http.Request) {
	login, err := s.handshakes.Begin(s.oauthCfg)
	if err != nil {
		if errors.Is(err, oauth.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, "not_configured", err.Error())
			return
		}
		s.log.Error("login issuance failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Could not start login")
		return
	}
	writeJSON(w, http.StatusOK, login)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "OAuth application is not configured")
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeError(w, http.StatusBadRequest, e, q.Get("error_description"))
		return
	}
	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	tok, err := s.tokens.Complete(r.Context(), s.handshakes, q.Get("state"), code)
	if err != nil {
		s.writeTokenError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "authorized",
		"token_type": tok.TokenType,
		"expires_in": tok.ExpiresIn,
		"user_id":    tok.UserID,
		"scope":      tok.Scope,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "OAuth application is not configured")
		return
	}
	if err := s.tokens.RefreshWith(r.Context(), suppliedRefreshToken(w, r)); err != nil {
		s.writeTokenError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

// suppliedRefreshToken reads an optional refresh_token from a JSON body,
// a form body or the query string. Empty means use the stored one.
func suppliedRefreshToken(w http.ResponseWriter, r *http.Request) string {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body) == nil && body.RefreshToken != "" {
			return body.RefreshToken
		}
		return r.URL.Query().Get("refresh_token")
	}
	return r.FormValue("refresh_token")
}

// writeTokenError maps OAuth failures onto responses. Token endpoint errors
// keep the upstream status and body.
func (s *Server) writeTokenError(w http.ResponseWriter, err error) {
	var te *oauth.TokenError
	switch {
	case errors.Is(err, oauth.ErrInvalidHandshake):
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid or expired state")
	case errors.Is(err, oauth.ErrRefreshUnavailable):
		writeError(w, http.StatusBadRequest, "refresh_unavailable", err.Error())
	case errors.Is(err, oauth.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "not_configured", err.Error())
	case errors.As(err, &te):
		status := te.StatusCode
		if status < 400 {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, te.Body)
	default:
		s.log.Warn("token endpoint unreachable", "error", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "Token endpoint unreachable")
	}
}

// maxSentimentReviews bounds one POST /api/sentiment body.
const maxSentimentReviews = 1000

// sentimentRequest is the body of POST /api/sentiment.
type sentimentRequest struct {
	Reviews []struct {
		Text   string  `json:"text"`
		Rating float64 `json:"rating"`
	} `json:"reviews"`
}

// handleSentiment scores caller-supplied reviews without fetching or
// storing anything.
func (s *Server) handleSentiment(w http.ResponseWriter, r *http.Request) {
	var req sentimentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Body must be JSON with a reviews array")
		return
	}
	if len(req.Reviews) > maxSentimentReviews {
		writeError(w, http.StatusBadRequest, "invalid_request",
			"At most "+strconv.Itoa(maxSentimentReviews)+" reviews per request")
		return
	}
	reviews := make([]types.Review, 0, len(req.Reviews))
	for _, rv := range req.Reviews {
		if rv.Rating < 0 || rv.Rating > 5 {
			writeError(w, http.StatusBadRequest, "invalid_request", "rating must be between 0 and 5")
			return
		}
		reviews = append(reviews, types.Review{Text: rv.Text, Rating: rv.Rating})
	}
	writeJSON(w, http.StatusOK, sentiment.Digest(s.pipeline.Analyzer().Analyze(reviews)))
}

// analyzeRequest is the body of POST /api/analysis.
type analyzeRequest struct {
	ProductURL  string `json:"product_url"`
	ReviewLimit int    `json:"review_limit,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Body must be JSON with product_url")
		return
	}
	req.ProductURL = strings.TrimSpace(req.ProductURL)
	if !strings.HasPrefix(req.ProductURL, "http://") && !strings.HasPrefix(req.ProductURL, "https://") {
		writeError(w, http.StatusBadRequest, "invalid_request", "product_url must be an http(s) URL")
		return
	}
	limit := req.ReviewLimit
	if limit <= 0 {
		limit = s.reviewLimit
	}

	res, err := s.pipeline.Analyze(r.Context(), req.ProductURL, limit)
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyURL) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.writeStoreError(w, r, err)
		return
	}
	res.Reviews = nil
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleReanalyze(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := s.pipeline.Reanalyze(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	res.Reviews = nil
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit := defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, err := s.store.ListAnalyses(r.Context(), limit)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := s.store.GetAnalysis(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleLatestAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := s.store.LatestAnalysis(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteAnalysis(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleClearAnalyses(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.ClearAnalyses(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListProducts(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := s.store.GetProduct(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	reviews, err := s.store.ListReviews(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": p, "reviews": reviews})
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteProduct(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}
