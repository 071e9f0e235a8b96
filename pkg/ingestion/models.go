package ingestion

const (
	MessageImported      = "DICOM file imported successfully"
	MessageAlreadyExists = "Instance already exists in the database"
	MessageEmptyFile     = "Empty file"
)

// Result is the outcome of one import. Success is false both for failures and
// for files whose SOP instance is already catalogued; in the latter case every
// id is set and points at the existing rows.
type Result struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	FileName   string `json:"file_name,omitempty"`
	PatientID  *uint  `json:"patient_id"`
	StudyID    *uint  `json:"study_id"`
	SeriesID   *uint  `json:"series_id"`
	InstanceID *uint  `json:"instance_id"`
}

func failed(fileName, message string) Result {
	return Result{Success: false, Message: message, FileName: fileName}
}

func uintPtr(v uint) *uint {
	return &v
}
