package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/voicegate/internal/gate"
	"github.com/MrWong99/voicegate/internal/matcher"
	"github.com/MrWong99/voicegate/internal/observe"
	"github.com/MrWong99/voicegate/pkg/audio/wav"
	"github.com/MrWong99/voicegate/pkg/enrollment"
)

// ── Gate ─────────────────────────────────────────────────────────────────────

type policyView struct {
	TargetLabel      string `json:"target_label"`
	Cooldown         string `json:"cooldown"`
	InferenceTimeout string `json:"inference_timeout"`
	TriggerTimeout   string `json:"trigger_timeout"`
}

type stateResponse struct {
	gate.Status
	CooldownRemainingMS int64      `json:"cooldown_remaining_ms"`
	Policy              policyView `json:"policy"`
}

func newStateResponse(st gate.Status) stateResponse {
	return stateResponse{
		Status:              st,
		CooldownRemainingMS: st.CooldownRemaining.Milliseconds(),
		Policy: policyView{
			TargetLabel:      string(st.Policy.TargetLabel),
			Cooldown:         st.Policy.Cooldown.String(),
			InferenceTimeout: st.Policy.InferenceTimeout.String(),
			TriggerTimeout:   st.Policy.TriggerTimeout.String(),
		},
	}
}

func (s *Server) getState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newStateResponse(s.deps.Gate.Status()))
}

func (s *Server) startGate(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Gate.Start(r.Context())
	switch {
	case errors.Is(err, gate.ErrAlreadyRunning):
		s.writeError(w, r, http.StatusConflict, err)
		return
	case err != nil:
		s.writeError(w, r, http.StatusServiceUnavailable, err)
		return
	}
	observe.Logger(r.Context()).Info("gate started via admin API")
	writeJSON(w, http.StatusOK, newStateResponse(s.deps.Gate.Status()))
}

func (s *Server) stopGate(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Gate.Stop(r.Context()); err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	observe.Logger(r.Context()).Info("gate stopped via admin API")
	writeJSON(w, http.StatusOK, newStateResponse(s.deps.Gate.Status()))
}

// ── Enrollments ──────────────────────────────────────────────────────────────

type enrollmentView struct {
	ID         string                `json:"id"`
	Label      string                `json:"label"`
	Provenance enrollment.Provenance `json:"provenance"`
	CreatedAt  time.Time             `json:"created_at"`
	Dimensions int                   `json:"dimensions"`
}

func viewOf(rec enrollment.Record) enrollmentView {
	return enrollmentView{
		ID:         rec.ID,
		Label:      rec.Label,
		Provenance: rec.Provenance,
		CreatedAt:  rec.CreatedAt,
		Dimensions: len(rec.Embedding),
	}
}

func (s *Server) listEnrollments(w http.ResponseWriter, r *http.Request) {
	recs, err := s.deps.Store.List(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	out := make([]enrollmentView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, viewOf(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createEnrollment(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if len(data) == 0 {
		s.writeError(w, r, http.StatusBadRequest, errNoBody)
		return
	}

	utterance, err := wav.DecodeMono(data, s.deps.SampleRate)
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, wav.ErrInvalid) {
			status = http.StatusUnprocessableEntity
		}
		s.writeError(w, r, status, err)
		return
	}

	label := strings.TrimSpace(r.URL.Query().Get("label"))
	if label == "" {
		label = "operator"
	}

	rec, err := s.deps.Enroller.Enroll(r.Context(), utterance, label)
	switch {
	case matcher.IsRetryable(err):
		s.writeError(w, r, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Location", "/v1/enrollments/"+rec.ID)
	writeJSON(w, http.StatusCreated, viewOf(rec))
}

func (s *Server) deleteEnrollment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.deps.Store.Delete(r.Context(), id)
	switch {
	case errors.Is(err, enrollment.ErrNotFound):
		s.writeError(w, r, http.StatusNotFound, err)
		return
	case err != nil:
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearEnrollments(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Clear(r.Context()); err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	observe.Logger(r.Context()).Warn("all enrollments cleared via admin API")
	w.WriteHeader(http.StatusNoContent)
}
