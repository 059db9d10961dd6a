package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"mailtrack/internal/domain"
	"mailtrack/internal/service"
)

type API struct {
	Svc *service.TrackingService
	// RegisterLimiter throttles key issuance. Nil means unlimited.
	RegisterLimiter   *rate.Limiter
	TrustProxyHeaders bool
}

func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/api/register", a.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/generate-key", a.handleRegister).Methods(http.MethodPost)

	emails := r.PathPrefix("/api/emails").Subrouter()
	emails.Use(RequireAPIKey)
	emails.HandleFunc("", a.handleCreate).Methods(http.MethodPost)
	emails.HandleFunc("", a.handleList).Methods(http.MethodGet)
	emails.HandleFunc("/{id}", a.handleGet).Methods(http.MethodGet)
	emails.HandleFunc("/{id}", a.handleDelete).Methods(http.MethodDelete)
	emails.HandleFunc("/{id}/sent", a.handleMarkSent).Methods(http.MethodPost)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if a.RegisterLimiter != nil && !a.RegisterLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, ErrTooManyRequests)
		return
	}
	owner, err := a.Svc.Register(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.RegisterResponse{APIKey: owner.Key, UserID: owner.UserID})
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	rec, err := a.Svc.CreateRecord(r.Context(), OwnerKey(r.Context()), req,
		clientIP(r, a.TrustProxyHeaders), requestOrigin(r, a.TrustProxyHeaders))
	if err != nil {
		writeServiceError(w, err, "subject", req.Subject)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := a.Svc.ListRecords(r.Context(), OwnerKey(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := a.Svc.GetRecord(r.Context(), OwnerKey(r.Context()), id)
	if err != nil {
		writeServiceError(w, err, "record_id", id)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.Svc.DeleteRecord(r.Context(), OwnerKey(r.Context()), id); err != nil {
		writeServiceError(w, err, "record_id", id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": MsgDeleted})
}

func (a *API) handleMarkSent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sentAt, err := a.Svc.MarkSent(r.Context(), OwnerKey(r.Context()), id)
	if err != nil {
		writeServiceError(w, err, "record_id", id)
		return
	}
	writeJSON(w, http.StatusOK, domain.MarkSentResponse{SentAt: sentAt})
}
