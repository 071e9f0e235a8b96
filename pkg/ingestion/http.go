package ingestion

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/dicom-catalog/pkg/common/logger"
)

// FileValidator screens an upload by its declared name and size. Rejections are
// reported as ValidationError; any other error is an internal failure.
type FileValidator interface {
	Validate(fileName string, size int64) error
}

type HTTPHandler struct {
	service   *Service
	validator FileValidator
	maxBody   int64
}

func NewHTTPHandler(service *Service, validator FileValidator, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, validator: validator, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/dicom/upload", h.handleUpload).Methods(http.MethodPost)
	router.HandleFunc("/dicom/upload/batch", h.handleBatchUpload).Methods(http.MethodPost)
	router.HandleFunc("/dicom/download/{instanceId:[0-9]+}", h.handleDownload).Methods(http.MethodGet)
}

func (h *HTTPHandler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		logger.Log.WithError(err).Warn("invalid upload form")
		writeMessage(w, http.StatusBadRequest, "invalid multipart form")
		return false
	}
	return true
}

func (h *HTTPHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 || files[0].Size == 0 {
		logger.Log.Warn("no file provided for single upload")
		writeMessage(w, http.StatusBadRequest, "No file provided")
		return
	}
	fh := files[0]
	if err := h.validator.Validate(fh.Filename, fh.Size); err != nil {
		if !IsValidationError(err) {
			logger.Log.WithError(err).WithField("file_name", fh.Filename).Error("failed to validate upload")
			writeMessage(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeMessage(w, http.StatusBadRequest, "File must be a DICOM file (.dcm)")
		return
	}

	logger.Log.WithFields(map[string]interface{}{
		"file_name": fh.Filename,
		"size":      fh.Size,
	}).Info("Uploading DICOM file")

	result := h.importValidated(r, fh)
	if !result.Success {
		writeJSON(w, http.StatusBadRequest, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) handleBatchUpload(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		logger.Log.Warn("no files provided for batch upload")
		writeMessage(w, http.StatusBadRequest, "No files provided")
		return
	}

	results := make([]Result, 0, len(files))
	for _, fh := range files {
		results = append(results, h.importPart(r, fh))
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *HTTPHandler) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["instanceId"], 10, 64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid instance id")
		return
	}

	data, err := h.service.GetFile(r.Context(), uint(id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			logger.Log.WithField("instance_id", id).Warn("requested DICOM file not found")
			writeMessage(w, http.StatusNotFound, "File not found")
			return
		}
		logger.Log.WithError(err).WithField("instance_id", id).Error("failed to download DICOM file")
		writeMessage(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/dicom")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="instance_%d.dcm"`, id))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
