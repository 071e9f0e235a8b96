package catalog

import (
	"time"

	"gorm.io/datatypes"
)

type PatientSummary struct {
	ID          uint       `json:"id"`
	PatientID   string     `json:"patient_id"`
	PatientName string     `json:"patient_name"`
	BirthDate   *time.Time `json:"birth_date,omitempty"`
	Gender      *string    `json:"gender,omitempty"`
	StudyCount  int        `json:"study_count"`
}

type PatientDetail struct {
	ID          uint           `json:"id"`
	PatientID   string         `json:"patient_id"`
	PatientName string         `json:"patient_name"`
	BirthDate   *time.Time     `json:"birth_date,omitempty"`
	Gender      *string        `json:"gender,omitempty"`
	Studies     []StudySummary `json:"studies"`
}

type StudySummary struct {
	ID               uint       `json:"id"`
	StudyInstanceUID string     `json:"study_instance_uid"`
	StudyDate        *time.Time `json:"study_date,omitempty"`
	StudyDescription *string    `json:"study_description,omitempty"`
	AccessionNumber  *string    `json:"accession_number,omitempty"`
	PatientName      string     `json:"patient_name"`
	SeriesCount      int        `json:"series_count"`
}

type SeriesSummary struct {
	ID                uint    `json:"id"`
	SeriesInstanceUID string  `json:"series_instance_uid"`
	Modality          *string `json:"modality,omitempty"`
	SeriesNumber      *int    `json:"series_number,omitempty"`
	SeriesDescription *string `json:"series_description,omitempty"`
	InstanceCount     int     `json:"instance_count"`
}

// InstanceSummary omits the pixel-module and transfer syntax attributes kept
// on the stored row.
type InstanceSummary struct {
	ID             uint   `json:"id"`
	SOPInstanceUID string `json:"sop_instance_uid"`
	InstanceNumber *int   `json:"instance_number,omitempty"`
	FilePath       string `json:"file_path"`
	FileSize       int64  `json:"file_size"`
	Rows           *int   `json:"rows,omitempty"`
	Columns        *int   `json:"columns,omitempty"`
}

func newPatientSummary(p Patient) PatientSummary {
	return PatientSummary{
		ID:          p.ID,
		PatientID:   p.PatientID,
		PatientName: p.PatientName,
		BirthDate:   dateValue(p.BirthDate),
		Gender:      p.Gender,
		StudyCount:  len(p.Studies),
	}
}

func newStudySummary(s Study, patientName string) StudySummary {
	return StudySummary{
		ID:               s.ID,
		StudyInstanceUID: s.StudyInstanceUID,
		StudyDate:        dateValue(s.StudyDate),
		StudyDescription: s.StudyDescription,
		AccessionNumber:  s.AccessionNumber,
		PatientName:      patientName,
		SeriesCount:      len(s.Series),
	}
}

func newSeriesSummary(s Series) SeriesSummary {
	return SeriesSummary{
		ID:                s.ID,
		SeriesInstanceUID: s.SeriesInstanceUID,
		Modality:          s.Modality,
		SeriesNumber:      s.SeriesNumber,
		SeriesDescription: s.SeriesDescription,
		InstanceCount:     len(s.Instances),
	}
}

func newInstanceSummary(i Instance) InstanceSummary {
	return InstanceSummary{
		ID:             i.ID,
		SOPInstanceUID: i.SOPInstanceUID,
		InstanceNumber: i.InstanceNumber,
		FilePath:       i.FilePath,
		FileSize:       i.FileSize,
		Rows:           i.Rows,
		Columns:        i.Columns,
	}
}

func dateValue(d *datatypes.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := time.Time(*d)
	return &t
}
