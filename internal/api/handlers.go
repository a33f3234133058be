// Package api exposes the edit-layer hooks over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"github.com/sandeepkv93/tasksched/internal/materialize"
	"github.com/sandeepkv93/tasksched/internal/model"
	"github.com/sandeepkv93/tasksched/internal/service"
	"github.com/sandeepkv93/tasksched/internal/storage"
)

// maxOccurrenceDays bounds the inclusive from..to window of one occurrences
// request.
const maxOccurrenceDays = 366

type Handler struct {
	svc *service.Service
	log *log.Logger
}

func NewRouter(svc *service.Service, logger *log.Logger) *mux.Router {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	h := &Handler{svc: svc, log: logger}

	r := mux.NewRouter()
	r.HandleFunc("/catch-up", h.handleCatchUp).Methods(http.MethodPost)
	r.HandleFunc("/instances/{id}/triggers", h.handleReschedule).Methods(http.MethodPut)
	r.HandleFunc("/instances/{id}/triggers", h.handleCancel).Methods(http.MethodDelete)
	r.HandleFunc("/instances/{id}/plan", h.handlePlan).Methods(http.MethodGet)
	r.HandleFunc("/templates/{id}/occurrences", h.handleOccurrences).Methods(http.MethodGet)
	return r
}

type planEntryResponse struct {
	Index         int       `json:"index"`
	OffsetMinutes int       `json:"offset_minutes"`
	FireAt        time.Time `json:"fire_at"`
	Reason        string    `json:"reason,omitempty"`
}

type planResponse struct {
	InstanceID string              `json:"instance_id"`
	DueAt      *time.Time          `json:"due_at,omitempty"`
	Entries    []planEntryResponse `json:"entries"`
	Skipped    []planEntryResponse `json:"skipped"`
}

func newPlanResponse(plan model.Plan) planResponse {
	out := planResponse{
		InstanceID: plan.InstanceID,
		Entries:    make([]planEntryResponse, 0, len(plan.Entries)),
		Skipped:    make([]planEntryResponse, 0, len(plan.Skipped)),
	}
	if !plan.DueAt.IsZero() {
		due := plan.DueAt
		out.DueAt = &due
	}
	for _, e := range plan.Entries {
		out.Entries = append(out.Entries, planEntryResponse{Index: e.OffsetIndex, OffsetMinutes: e.OffsetMinutes, FireAt: e.FireAt})
	}
	for _, s := range plan.Skipped {
		out.Skipped = append(out.Skipped, planEntryResponse{Index: s.OffsetIndex, OffsetMinutes: s.OffsetMinutes, FireAt: s.FireAt, Reason: string(s.Reason)})
	}
	return out
}

type failureResponse struct {
	TemplateID string `json:"template_id"`
	Error      string `json:"error"`
}

type reportResponse struct {
	Created []string          `json:"created"`
	Invalid []failureResponse `json:"invalid"`
	Failed  []failureResponse `json:"failed"`
}

func newReportResponse(report materialize.Report) reportResponse {
	out := reportResponse{
		Created: make([]string, 0),
		Invalid: make([]failureResponse, 0, len(report.Invalid)),
		Failed:  make([]failureResponse, 0, len(report.Failed)),
	}
	for _, res := range report.Results {
		out.Created = append(out.Created, res.CreatedIDs()...)
	}
	for _, f := range report.Invalid {
		out.Invalid = append(out.Invalid, failureResponse{TemplateID: f.TemplateID, Error: f.Err.Error()})
	}
	for _, f := range report.Failed {
		out.Failed = append(out.Failed, failureResponse{TemplateID: f.TemplateID, Error: f.Err.Error()})
	}
	return out
}

func (h *Handler) handleCatchUp(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.RunCatchUp(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReportResponse(report))
}

func (h *Handler) handleReschedule(w http.ResponseWriter, r *http.Request) {
	inst, err := h.svc.Repository().GetInstance(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	plan, err := h.svc.OnTaskSavedOrEdited(r.Context(), inst)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlanResponse(plan))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.OnTaskDeleted(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePlan(w http.ResponseWriter, r *http.Request) {
	inst, err := h.svc.Repository().GetInstance(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlanResponse(model.BuildPlan(inst, h.svc.Now())))
}

func (h *Handler) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	tmpl, err := h.svc.Repository().GetTemplate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	loc := tmpl.Anchor.Location()
	from, err := model.ParseDate(r.URL.Query().Get("from"), loc)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "from must be YYYY-MM-DD"})
		return
	}
	to, err := model.ParseDate(r.URL.Query().Get("to"), loc)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "to must be YYYY-MM-DD"})
		return
	}
	if model.DaysBetween(from, to) >= maxOccurrenceDays {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("window must span at most %d days", maxOccurrenceDays)})
		return
	}
	days, err := tmpl.Rule.Occurrences(tmpl.Anchor, from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]string, 0, len(days))
	for _, d := range days {
		out = append(out, d.Format(model.DateLayout))
	}
	writeJSON(w, http.StatusOK, map[string]any{"template_id": tmpl.ID, "occurrences": out})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrInvalidRule), errors.Is(err, model.ErrInvalidOffsets):
		status = http.StatusBadRequest
	default:
		h.log.Error("request failed", "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
