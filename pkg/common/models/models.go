package models

import "time"

// Event is the envelope published on the import topics.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

const (
	EventInstanceImported     = "instance.imported"
	EventInstanceImportFailed = "instance.import_failed"
)

// ImportEvent is the payload carried in Event.Data for import outcomes.
type ImportEvent struct {
	FileName       string    `json:"file_name"`
	SOPInstanceUID string    `json:"sop_instance_uid,omitempty"`
	PatientID      *uint     `json:"patient_id,omitempty"`
	StudyID        *uint     `json:"study_id,omitempty"`
	SeriesID       *uint     `json:"series_id,omitempty"`
	InstanceID     *uint     `json:"instance_id,omitempty"`
	FilePath       string    `json:"file_path,omitempty"`
	FileSize       int64     `json:"file_size,omitempty"`
	Error          string    `json:"error,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Map flattens the payload for Event.Data.
func (e ImportEvent) Map() map[string]interface{} {
	data := map[string]interface{}{
		"file_name":   e.FileName,
		"occurred_at": e.OccurredAt,
	}
	if e.SOPInstanceUID != "" {
		data["sop_instance_uid"] = e.SOPInstanceUID
	}
	putID(data, "patient_id", e.PatientID)
	putID(data, "study_id", e.StudyID)
	putID(data, "series_id", e.SeriesID)
	putID(data, "instance_id", e.InstanceID)
	if e.FilePath != "" {
		data["file_path"] = e.FilePath
		data["file_size"] = e.FileSize
	}
	if e.Error != "" {
		data["error"] = e.Error
	}
	return data
}

func putID(data map[string]interface{}, key string, id *uint) {
	if id != nil {
		data[key] = *id
	}
}
