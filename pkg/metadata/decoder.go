package metadata

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Decoder extracts Metadata from Part 10 streams.
type Decoder struct{}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Extract rewinds r, decodes the header (pixel data is skipped) and flattens it.
func (d *Decoder) Extract(r io.ReadSeeker) (*Metadata, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("measuring stream: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding stream: %w", err)
	}

	ds, err := dicom.Parse(r, size, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	m := FromDataset(&ds)
	return &m, nil
}

// FromDataset applies the defaulting and sanitizing rules to an already decoded dataset.
func FromDataset(ds *dicom.Dataset) Metadata {
	return Metadata{
		PatientID:        requiredString(ds, tag.PatientID, UnknownPatient),
		PatientName:      requiredString(ds, tag.PatientName, UnknownPatient),
		PatientBirthDate: optionalDate(ds, tag.PatientBirthDate),
		PatientSex:       optionalString(ds, tag.PatientSex),

		StudyInstanceUID:   requiredString(ds, tag.StudyInstanceUID, ""),
		StudyDate:          optionalDate(ds, tag.StudyDate),
		StudyTime:          optionalTime(ds, tag.StudyTime),
		StudyDescription:   optionalString(ds, tag.StudyDescription),
		AccessionNumber:    optionalString(ds, tag.AccessionNumber),
		ReferringPhysician: optionalString(ds, tag.ReferringPhysicianName),

		SeriesInstanceUID: requiredString(ds, tag.SeriesInstanceUID, ""),
		Modality:          optionalString(ds, tag.Modality),
		SeriesNumber:      optionalInt(ds, tag.SeriesNumber),
		SeriesDescription: optionalString(ds, tag.SeriesDescription),
		BodyPartExamined:  optionalString(ds, tag.BodyPartExamined),
		ProtocolName:      optionalString(ds, tag.ProtocolName),

		SOPInstanceUID:    requiredString(ds, tag.SOPInstanceUID, ""),
		SOPClassUID:       optionalString(ds, tag.SOPClassUID),
		InstanceNumber:    optionalInt(ds, tag.InstanceNumber),
		TransferSyntaxUID: optionalString(ds, tag.TransferSyntaxUID),

		Rows:          optionalInt(ds, tag.Rows),
		Columns:       optionalInt(ds, tag.Columns),
		BitsAllocated: optionalInt(ds, tag.BitsAllocated),
	}
}

// rawValue returns the first value of t rendered as a string.
func rawValue(ds *dicom.Dataset, t tag.Tag) (string, bool) {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil || elem.Value == nil {
		return "", false
	}

	switch v := elem.Value.GetValue().(type) {
	case []string:
		if len(v) > 0 {
			return v[0], true
		}
	case []int:
		if len(v) > 0 {
			return strconv.Itoa(v[0]), true
		}
	case []float64:
		if len(v) > 0 {
			return strconv.FormatFloat(v[0], 'f', -1, 64), true
		}
	case string:
		return v, true
	}
	return "", false
}

func requiredString(ds *dicom.Dataset, t tag.Tag, def string) string {
	raw, ok := rawValue(ds, t)
	if !ok {
		return def
	}
	if s := SanitizeString(raw); s != "" {
		return s
	}
	return def
}

func optionalString(ds *dicom.Dataset, t tag.Tag) *string {
	raw, ok := rawValue(ds, t)
	if !ok {
		return nil
	}
	s := SanitizeString(raw)
	if s == "" {
		return nil
	}
	return &s
}

func optionalInt(ds *dicom.Dataset, t tag.Tag) *int {
	s := optionalString(ds, t)
	if s == nil {
		return nil
	}
	n, err := strconv.Atoi(*s)
	if err != nil {
		// DS-encoded integers such as "3.0" still identify an ordinal.
		f, ferr := strconv.ParseFloat(*s, 64)
		if ferr != nil {
			return nil
		}
		n = int(f)
	}
	return &n
}

func optionalDate(ds *dicom.Dataset, t tag.Tag) *time.Time {
	s := optionalString(ds, t)
	if s == nil {
		return nil
	}
	return ParseDate(*s)
}

func optionalTime(ds *dicom.Dataset, t tag.Tag) *time.Duration {
	s := optionalString(ds, t)
	if s == nil {
		return nil
	}
	return ParseTime(*s)
}

// ParseDate reads a DA value (YYYYMMDD, or the pre-3.0 YYYY.MM.DD form).
func ParseDate(s string) *time.Time {
	s = strings.ReplaceAll(strings.TrimSpace(s), ".", "")
	d, err := time.Parse("20060102", s)
	if err != nil {
		return nil
	}
	return &d
}

// ParseTime reads a TM value (HH, HHMM, HHMMSS with optional .FFFFFF, or the
// pre-3.0 HH:MM:SS form) as an offset from midnight.
func ParseTime(s string) *time.Duration {
	s = strings.ReplaceAll(strings.TrimSpace(s), ":", "")
	whole, frac, _ := strings.Cut(s, ".")
	if len(whole) < 2 || len(whole) > 6 || len(whole)%2 != 0 {
		return nil
	}

	parts := []time.Duration{time.Hour, time.Minute, time.Second}
	limits := []int{23, 59, 60}
	var total time.Duration
	for i := 0; i*2 < len(whole); i++ {
		n, err := strconv.Atoi(whole[i*2 : i*2+2])
		if err != nil || n < 0 || n > limits[i] {
			return nil
		}
		total += time.Duration(n) * parts[i]
	}

	if frac != "" {
		if len(frac) > 6 {
			frac = frac[:6]
		}
		n, err := strconv.Atoi(frac + strings.Repeat("0", 6-len(frac)))
		if err != nil {
			return nil
		}
		total += time.Duration(n) * time.Microsecond
	}
	return &total
}
