package catalog

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/dicom-catalog/pkg/common/logger"
)

type HTTPHandler struct {
	service *Service
}

func NewHTTPHandler(service *Service) *HTTPHandler {
	return &HTTPHandler{service: service}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/patients", h.handleListPatients).Methods(http.MethodGet)
	router.HandleFunc("/patients/{id}", h.handleGetPatient).Methods(http.MethodGet)
	router.HandleFunc("/patients/{id}/details", h.handlePatientDetail).Methods(http.MethodGet)
	router.HandleFunc("/patients/{id}/studies", h.handlePatientStudies).Methods(http.MethodGet)
	router.HandleFunc("/studies/{studyId}/series", h.handleStudySeries).Methods(http.MethodGet)
	router.HandleFunc("/series/{seriesId}/instances", h.handleSeriesInstances).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.service.ListPatients(r.Context())
	if err != nil {
		h.fail(w, err, "failed to list patients")
		return
	}
	writeJSON(w, patients)
}

func (h *HTTPHandler) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	patient, err := h.service.GetPatient(r.Context(), id)
	if err != nil {
		h.fail(w, err, "failed to fetch patient")
		return
	}
	writeJSON(w, patient)
}

func (h *HTTPHandler) handlePatientDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	detail, err := h.service.GetPatientDetail(r.Context(), id)
	if err != nil {
		h.fail(w, err, "failed to fetch patient detail")
		return
	}
	writeJSON(w, detail)
}

func (h *HTTPHandler) handlePatientStudies(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	studies, err := h.service.ListStudiesForPatient(r.Context(), id)
	if err != nil {
		h.fail(w, err, "failed to list studies")
		return
	}
	writeJSON(w, studies)
}

func (h *HTTPHandler) handleStudySeries(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "studyId")
	if !ok {
		return
	}
	series, err := h.service.ListSeriesForStudy(r.Context(), id)
	if err != nil {
		h.fail(w, err, "failed to list series")
		return
	}
	writeJSON(w, series)
}

func (h *HTTPHandler) handleSeriesInstances(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "seriesId")
	if !ok {
		return
	}
	instances, err := h.service.ListInstancesForSeries(r.Context(), id)
	if err != nil {
		h.fail(w, err, "failed to list instances")
		return
	}
	writeJSON(w, instances)
}

func (h *HTTPHandler) fail(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	logger.Log.WithError(err).Error(msg)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return uint(id), true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
