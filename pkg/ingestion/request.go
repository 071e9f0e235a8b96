package ingestion

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
)

const multipartMemory = 32 << 20

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// importPart runs one multipart file through the validator and the pipeline.
// Validation outcomes come back as failed Results so batch callers get one
// entry per file.
func (h *HTTPHandler) importPart(r *http.Request, fh *multipart.FileHeader) Result {
	err := h.validator.Validate(fh.Filename, fh.Size)
	switch {
	case err == nil:
		return h.importValidated(r, fh)
	case !IsValidationError(err):
		return failed(fh.Filename, fmt.Sprintf("Error: %v", err))
	case isEmptyFile(err):
		return failed(fh.Filename, MessageEmptyFile)
	default:
		return failed(fh.Filename, fmt.Sprintf("Skipped non-DICOM file: %s", fh.Filename))
	}
}

// importValidated imports a part that already passed validation.
func (h *HTTPHandler) importValidated(r *http.Request, fh *multipart.FileHeader) Result {
	f, err := fh.Open()
	if err != nil {
		return failed(fh.Filename, fmt.Sprintf("Error: %v", err))
	}
	defer f.Close()

	return h.service.Import(r.Context(), f, fh.Filename)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Success: false, Message: msg})
}
