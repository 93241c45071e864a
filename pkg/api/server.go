package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/0xProject/0x-coordinator-server/pkg/coordinator"
	"github.com/0xProject/0x-coordinator-server/pkg/metrics"
)

// Server is the coordinator's HTTP and WebSocket surface.
type Server struct {
	approver *coordinator.Approver
	hub      *Hub
	metrics  *metrics.Metrics
	logger   *zap.Logger
	router   *mux.Router

	allowedOrigins []string
}

// Options tune the transport layer.
type Options struct {
	// AllowedOrigins feeds the CORS layer; empty allows every origin, which
	// matches the public-relayer deployments this server fronts.
	AllowedOrigins []string
}

// NewServer wires the request surface. The hub must already be running (or
// be started alongside, see Hub.Run).
func NewServer(approver *coordinator.Approver, hub *Hub, m *metrics.Metrics, logger *zap.Logger, opts Options) *Server {
	s := &Server{
		approver:       approver,
		hub:            hub,
		metrics:        m,
		logger:         logger,
		router:         mux.NewRouter(),
		allowedOrigins: opts.AllowedOrigins,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	v2 := s.router.PathPrefix("/v2").Subrouter()
	v2.HandleFunc("/configuration", s.handleConfiguration).Methods("GET")
	v2.HandleFunc("/request_transaction", s.handleRequestTransaction).Methods("POST")
	v2.HandleFunc("/soft_cancels", s.handleSoftCancels).Methods("POST")
	v2.HandleFunc("/ping", s.handlePing).Methods("GET")

	// WebSocket endpoint
	v2.HandleFunc("/requests", s.handleRequests)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
}

// Handler returns the fully wrapped handler chain for an http.Server.
func (s *Server) Handler() http.Handler {
	allowed := s.allowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

func (s *Server) handleConfiguration(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.approver.Configuration())
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRequestTransaction(w http.ResponseWriter, r *http.Request) {
	chainID, reqErr := parseChainID(r)
	if reqErr != nil {
		respondError(w, reqErr)
		return
	}

	var body RequestTransactionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.observe(chainID, metrics.OutcomeRejected)
		respondError(w, coordinator.NewMalformedJSONError())
		return
	}
	signedTx, txOrigin, reqErr := body.Validate()
	if reqErr != nil {
		s.observe(chainID, metrics.OutcomeRejected)
		respondError(w, reqErr)
		return
	}

	resp, err := s.approver.RequestApproval(r.Context(), chainID, signedTx, txOrigin)
	if err != nil {
		s.respondApprovalError(w, chainID, err)
		return
	}

	switch {
	case resp.Fill != nil:
		s.observe(chainID, metrics.OutcomeFillApproved)
		if s.metrics != nil {
			s.metrics.ObserveFillApproval(chainID)
		}
		respondJSON(w, http.StatusOK, resp.Fill)
	case resp.Cancel != nil:
		s.observe(chainID, metrics.OutcomeCancelAccepted)
		if s.metrics != nil {
			s.metrics.ObserveCancelAccepted(chainID)
		}
		respondJSON(w, http.StatusOK, resp.Cancel)
	default:
		s.logger.Error("approver returned an empty response", zap.Int64("chainId", chainID))
		respondInternalError(w)
	}
}

func (s *Server) handleSoftCancels(w http.ResponseWriter, r *http.Request) {
	chainID, reqErr := parseChainID(r)
	if reqErr != nil {
		respondError(w, reqErr)
		return
	}

	var body SoftCancelsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, coordinator.NewMalformedJSONError())
		return
	}
	hashes, reqErr := body.Validate()
	if reqErr != nil {
		respondError(w, reqErr)
		return
	}

	cancelled, err := s.approver.SoftCancelled(chainID, hashes)
	if err != nil {
		var requestErr *coordinator.RequestError
		if errors.As(err, &requestErr) {
			respondError(w, requestErr)
			return
		}
		s.logger.Error("failed to list soft cancels", zap.Int64("chainId", chainID), zap.Error(err))
		respondInternalError(w)
		return
	}

	out := SoftCancelsResponse{OrderHashes: make([]string, len(cancelled))}
	for i, h := range cancelled {
		out.OrderHashes[i] = h.Hex()
	}
	respondJSON(w, http.StatusOK, out)
}

// respondApprovalError maps a RequestApproval failure to the wire: client
// faults become their structured 400, everything else a 500.
func (s *Server) respondApprovalError(w http.ResponseWriter, chainID int64, err error) {
	var requestErr *coordinator.RequestError
	if errors.As(err, &requestErr) {
		s.observe(chainID, metrics.OutcomeRejected)
		respondError(w, requestErr)
		return
	}
	s.observe(chainID, metrics.OutcomeInternalError)
	s.logger.Error("approval request failed", zap.Int64("chainId", chainID), zap.Error(err))
	respondInternalError(w)
}

func (s *Server) observe(chainID int64, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveRequest(chainID, outcome)
	}
}

// parseChainID pulls the mandatory chainId query parameter.
func parseChainID(r *http.Request) (int64, *coordinator.RequestError) {
	raw := r.URL.Query().Get("chainId")
	if raw == "" {
		return 0, coordinator.NewSchemaViolation(coordinator.ValidationError{
			Field:  "chainId",
			Code:   coordinator.CodeRequiredField,
			Reason: `requires query parameter "chainId"`,
		})
	}
	chainID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, coordinator.NewSchemaViolation(coordinator.ValidationError{
			Field:  "chainId",
			Code:   coordinator.CodeIncorrectFormat,
			Reason: "chainId must be an integer",
		})
	}
	return chainID, nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, err *coordinator.RequestError) {
	respondJSON(w, err.Status, err)
}

func respondInternalError(w http.ResponseWriter) {
	respondJSON(w, http.StatusInternalServerError, map[string]string{
		"reason": "Internal Server Error",
	})
}
