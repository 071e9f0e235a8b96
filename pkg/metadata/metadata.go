// Package metadata turns a decoded DICOM header into the flat record the catalog
// persists, and builds storage paths from it.
package metadata

import (
	"fmt"
	"strings"
	"time"
)

const UnknownPatient = "UNKNOWN"

// Metadata is the flattened patient/study/series/instance view of one DICOM file.
// Pointer fields are nil when the tag is absent or empty.
type Metadata struct {
	// Patient
	PatientID        string
	PatientName      string
	PatientBirthDate *time.Time
	PatientSex       *string

	// Study
	StudyInstanceUID   string
	StudyDate          *time.Time
	StudyTime          *time.Duration
	StudyDescription   *string
	AccessionNumber    *string
	ReferringPhysician *string

	// Series
	SeriesInstanceUID string
	Modality          *string
	SeriesNumber      *int
	SeriesDescription *string
	BodyPartExamined  *string
	ProtocolName      *string

	// Instance
	SOPInstanceUID    string
	SOPClassUID       *string
	InstanceNumber    *int
	TransferSyntaxUID *string

	// Image
	Rows          *int
	Columns       *int
	BitsAllocated *int
}

// ParseError reports input that the DICOM decoder rejected.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid DICOM stream: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// SanitizeString drops NUL bytes, which Postgres refuses in text columns, and trims
// surrounding whitespace.
func SanitizeString(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}

// SanitizePathSegment makes an untrusted metadata value safe to use as a single
// path component on any backend.
func SanitizePathSegment(s string) string {
	safe := SanitizeString(s)
	safe = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(`/\:*?"<>|`, r) {
			return '_'
		}
		return r
	}, safe)
	safe = strings.ReplaceAll(safe, "..", "_")
	if strings.TrimSpace(safe) == "" {
		return "unknown"
	}
	return safe
}

// StoragePath is the relative blob path of an instance. Stored rows reference it,
// so the layout must not change.
func StoragePath(m *Metadata) string {
	return strings.Join([]string{
		SanitizePathSegment(m.PatientID),
		SanitizePathSegment(m.StudyInstanceUID),
		SanitizePathSegment(m.SeriesInstanceUID),
		SanitizePathSegment(m.SOPInstanceUID) + ".dcm",
	}, "/")
}
