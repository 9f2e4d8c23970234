package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"kosmarket/api/internal/auth"
	"kosmarket/api/internal/metrics"
)

type requestIDKey struct{}
type callerKey struct{}

type HTTPServer struct {
	service    *Service
	secret     []byte
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, jwtSecret, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{
		service:    service,
		secret:     []byte(jwtSecret),
		corsOrigin: corsOrigin,
		logger:     logger.Named("http"),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.withCaller)

		r.Get("/api/session/role", s.handleSessionRole)
		r.Get("/api/profile", s.handleGetProfile)
		r.Put("/api/profile", s.handleSaveProfile)
		r.Get("/api/users/{principal}/profile", s.handleUserProfile)

		r.Route("/api/listings", func(r chi.Router) {
			r.Get("/", s.handleListListings)
			r.Post("/", s.handleCreateListing)
			r.Get("/published", s.handlePublishedListings)
			r.Get("/locations", s.handleListingLocations)
			r.Get("/counts", s.handleListingCounts)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetListing)
				r.Get("/status", s.handleListingStatus)
				r.Get("/facilities", s.handleListingFacilities)
				r.Get("/photos", s.handleListingPhotos)
				r.Post("/photos", s.handleAttachPhoto)
				r.Post("/approve", s.handleApproveListing)
				r.Post("/reject", s.handleRejectListing)
				r.Post("/edit-request", s.handleSubmitEditRequest)
				r.Post("/delete-request", s.handleSubmitDeleteRequest)
				r.Post("/edit-request/decision", s.handleProcessEditRequest)
				r.Post("/delete-request/decision", s.handleProcessDeleteRequest)
			})
		})

		r.Get("/api/owners/{principal}/listings", s.handleOwnerListings)
		r.Get("/api/requests/edit", s.handleEditRequests)
		r.Get("/api/requests/delete", s.handleDeleteRequests)
		r.Get("/api/requests/mine", s.handleMyRequests)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"store": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["store"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSessionRole(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	role, err := s.service.ResolveCallerRole(r.Context(), caller)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": !caller.Anonymous(),
		"principal":     caller.Principal,
		"role":          role,
		"isAdmin":       role == "admin",
	})
}

func (s *HTTPServer) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.service.GetCallerProfile(r.Context(), callerFrom(r.Context()))
	s.respond(w, r, http.StatusOK, profile, err)
}

func (s *HTTPServer) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	var body ProfileInput
	if !s.decode(w, r, &body) {
		return
	}
	profile, err := s.service.SaveCallerProfile(r.Context(), callerFrom(r.Context()), body)
	s.respond(w, r, http.StatusOK, profile, err)
}

func (s *HTTPServer) handleUserProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.service.GetUserProfile(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "principal"))
	s.respond(w, r, http.StatusOK, profile, err)
}

func (s *HTTPServer) handleListListings(w http.ResponseWriter, r *http.Request) {
	listings, err := s.service.GetAllListings(r.Context())
	s.respond(w, r, http.StatusOK, map[string]any{"listings": listings}, err)
}

func (s *HTTPServer) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var body ListingInput
	if !s.decode(w, r, &body) {
		return
	}
	listing, err := s.service.CreateListing(r.Context(), callerFrom(r.Context()), body)
	s.respond(w, r, http.StatusCreated, map[string]any{"listingId": listing.ID, "listing": listing}, err)
}

func (s *HTTPServer) handlePublishedListings(w http.ResponseWriter, r *http.Request) {
	listings, err := s.service.GetPublishedListings(r.Context())
	s.respond(w, r, http.StatusOK, map[string]any{"listings": listings}, err)
}

func (s *HTTPServer) handleListingLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := s.service.GetListingLocations(r.Context())
	s.respond(w, r, http.StatusOK, map[string]any{"locations": locations}, err)
}

func (s *HTTPServer) handleListingCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.service.CountListingsByPropertyType(r.Context())
	s.respond(w, r, http.StatusOK, counts, err)
}

func (s *HTTPServer) handleGetListing(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	listing, err := s.service.GetListing(r.Context(), id)
	s.respond(w, r, http.StatusOK, listing, err)
}

func (s *HTTPServer) handleListingStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	status, err := s.service.GetListingStatus(r.Context(), id)
	s.respond(w, r, http.StatusOK, map[string]any{"listingId": id, "status": status}, err)
}

func (s *HTTPServer) handleListingFacilities(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	facilities, err := s.service.GetListingFacilities(r.Context(), id)
	s.respond(w, r, http.StatusOK, map[string]any{"listingId": id, "facilities": facilities}, err)
}

func (s *HTTPServer) handleListingPhotos(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	photos, err := s.service.GetListingPhotos(r.Context(), id)
	s.respond(w, r, http.StatusOK, map[string]any{"listingId": id, "photos": photos}, err)
}

func (s *HTTPServer) handleAttachPhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	var body PhotoInput
	if !s.decode(w, r, &body) {
		return
	}
	listing, err := s.service.AttachPhoto(r.Context(), callerFrom(r.Context()), id, body)
	s.respond(w, r, http.StatusOK, listing, err)
}

func (s *HTTPServer) handleApproveListing(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	listing, err := s.service.ApproveListing(r.Context(), callerFrom(r.Context()), id)
	s.respond(w, r, http.StatusOK, listing, err)
}

func (s *HTTPServer) handleRejectListing(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	var body RejectInput
	if !s.decode(w, r, &body) {
		return
	}
	listing, err := s.service.RejectListing(r.Context(), callerFrom(r.Context()), id, body)
	s.respond(w, r, http.StatusOK, listing, err)
}

func (s *HTTPServer) handleSubmitEditRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	var body ListingInput
	if !s.decode(w, r, &body) {
		return
	}
	request, err := s.service.SubmitEditRequest(r.Context(), callerFrom(r.Context()), id, body)
	s.respond(w, r, http.StatusCreated, request, err)
}

func (s *HTTPServer) handleSubmitDeleteRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	request, err := s.service.SubmitDeleteRequest(r.Context(), callerFrom(r.Context()), id)
	s.respond(w, r, http.StatusCreated, request, err)
}

func (s *HTTPServer) handleProcessEditRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	var body DecisionInput
	if !s.decode(w, r, &body) {
		return
	}
	request, err := s.service.ProcessEditRequest(r.Context(), callerFrom(r.Context()), id, body)
	s.respond(w, r, http.StatusOK, request, err)
}

func (s *HTTPServer) handleProcessDeleteRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := listingID(w, r)
	if !ok {
		return
	}
	var body DecisionInput
	if !s.decode(w, r, &body) {
		return
	}
	request, err := s.service.ProcessDeleteRequest(r.Context(), callerFrom(r.Context()), id, body)
	s.respond(w, r, http.StatusOK, request, err)
}

func (s *HTTPServer) handleOwnerListings(w http.ResponseWriter, r *http.Request) {
	listings, err := s.service.GetListingsByOwner(r.Context(), chi.URLParam(r, "principal"))
	s.respond(w, r, http.StatusOK, map[string]any{"listings": listings}, err)
}

func (s *HTTPServer) handleEditRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := s.service.GetAllEditRequests(r.Context(), callerFrom(r.Context()))
	s.respond(w, r, http.StatusOK, map[string]any{"requests": requests}, err)
}

func (s *HTTPServer) handleDeleteRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := s.service.GetAllDeleteRequests(r.Context(), callerFrom(r.Context()))
	s.respond(w, r, http.StatusOK, map[string]any{"requests": requests}, err)
}

func (s *HTTPServer) handleMyRequests(w http.ResponseWriter, r *http.Request) {
	mine, err := s.service.GetMyRequests(r.Context(), callerFrom(r.Context()))
	s.respond(w, r, http.StatusOK, mine, err)
}

// respond writes payload, or the mapped error when err is set.
func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, status int, payload any, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func listingID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, CodeNotFound, fmt.Sprintf("listing %q not found", raw), nil)
		return 0, false
	}
	return id, true
}

// withCaller resolves the bearer token into a Caller. No token is an
// anonymous caller; a bad token is rejected outright.
func (s *HTTPServer) withCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := Caller{}
		if token := bearerToken(r); token != "" {
			claims, err := auth.ParseToken(s.secret, token)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			caller = Caller{Principal: claims.Subject, Name: claims.Name}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

func callerFrom(ctx context.Context) Caller {
	caller, _ := ctx.Value(callerKey{}).(Caller)
	return caller
}

func requestIDFrom(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDKey{}).(string)
	return requestID
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(started)
		metrics.RecordHTTPRequest(r.Method, route, writer.status, elapsed)
		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, "UNAVAILABLE", "Service busy, try again", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
