package ingestion

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/dicom-catalog/pkg/blobstore"
	"github.com/synaptica-ai/dicom-catalog/pkg/catalog"
	"github.com/synaptica-ai/dicom-catalog/pkg/common/logger"
	"github.com/synaptica-ai/dicom-catalog/pkg/common/models"
	"github.com/synaptica-ai/dicom-catalog/pkg/metadata"
	"github.com/synaptica-ai/dicom-catalog/pkg/observability/metrics"
	"gorm.io/datatypes"
)

const eventSource = "dicom-catalog"

var ErrNotFound = errors.New("dicom file not found")

// Extractor decodes the header of a seekable DICOM stream.
type Extractor interface {
	Extract(r io.ReadSeeker) (*metadata.Metadata, error)
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType, source, key string, data map[string]interface{}) error
}

type Options struct {
	// Transactional runs the find-or-create chain in one store transaction.
	Transactional bool
	Isolation     sql.IsolationLevel

	Locker  Locker
	Events  EventPublisher
	DLQ     EventPublisher
	Metrics *metrics.Metrics
}

type Service struct {
	store     catalog.Store
	blobs     blobstore.Store
	extractor Extractor
	opts      Options
}

func NewService(store catalog.Store, blobs blobstore.Store, extractor Extractor, opts Options) *Service {
	if opts.Locker == nil {
		opts.Locker = NoopLocker{}
	}
	return &Service{store: store, blobs: blobs, extractor: extractor, opts: opts}
}

// imported carries what one pass of the chain resolved.
type imported struct {
	result   Result
	outcome  string
	sopUID   string
	filePath string
	fileSize int64
}

// Import catalogues one DICOM file. It never returns an error: failures are
// logged and reported through Result.
func (s *Service) Import(ctx context.Context, file io.ReadSeeker, fileName string) Result {
	start := time.Now()

	out, err := s.importFile(ctx, file)
	if err != nil {
		logger.Log.WithError(err).WithField("file_name", fileName).Error("Error importing DICOM file")
		s.opts.Metrics.ObserveImport(metrics.OutcomeFailed, time.Since(start).Seconds())
		s.publish(ctx, s.opts.DLQ, models.EventInstanceImportFailed, fileName, models.ImportEvent{
			FileName:   fileName,
			Error:      err.Error(),
			OccurredAt: time.Now().UTC(),
		})
		return failed(fileName, fmt.Sprintf("Error importing DICOM file: %v", err))
	}

	out.result.FileName = fileName
	s.opts.Metrics.ObserveImport(out.outcome, time.Since(start).Seconds())

	fields := logrus.Fields{
		"file_name":        fileName,
		"sop_instance_uid": out.sopUID,
		"outcome":          out.outcome,
	}
	if out.outcome == metrics.OutcomeImported {
		s.opts.Metrics.AddStoredBytes(out.fileSize)
		logger.Log.WithFields(fields).WithField("file_path", out.filePath).Info("DICOM file imported")
		s.publish(ctx, s.opts.Events, models.EventInstanceImported, out.sopUID, models.ImportEvent{
			FileName:       fileName,
			SOPInstanceUID: out.sopUID,
			PatientID:      out.result.PatientID,
			StudyID:        out.result.StudyID,
			SeriesID:       out.result.SeriesID,
			InstanceID:     out.result.InstanceID,
			FilePath:       out.filePath,
			FileSize:       out.fileSize,
			OccurredAt:     time.Now().UTC(),
		})
	} else {
		logger.Log.WithFields(fields).Info("DICOM instance already catalogued")
	}
	return out.result
}

func (s *Service) importFile(ctx context.Context, file io.ReadSeeker) (*imported, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding upload: %w", err)
	}

	meta, err := s.extractor.Extract(file)
	if err != nil {
		return nil, err
	}

	unlock, err := s.opts.Locker.Lock(ctx, patientLockKey(meta.PatientID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *imported
	chain := func(store catalog.Store) error {
		var err error
		out, err = s.catalogue(ctx, store, file, meta)
		return err
	}

	if s.opts.Transactional {
		err = s.store.Transaction(ctx, &sql.TxOptions{Isolation: s.opts.Isolation}, chain)
	} else {
		err = chain(s.store)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// catalogue resolves the hierarchy parent first, then stores the file and its
// Instance row unless the SOP instance is already known.
func (s *Service) catalogue(ctx context.Context, store catalog.Store, file io.ReadSeeker, meta *metadata.Metadata) (*imported, error) {
	patient, err := findOrCreatePatient(ctx, store, meta)
	if err != nil {
		return nil, err
	}
	study, err := findOrCreateStudy(ctx, store, meta, patient.ID)
	if err != nil {
		return nil, err
	}
	series, err := findOrCreateSeries(ctx, store, meta, study.ID)
	if err != nil {
		return nil, err
	}

	out := &imported{
		sopUID: meta.SOPInstanceUID,
		result: Result{
			PatientID: uintPtr(patient.ID),
			StudyID:   uintPtr(study.ID),
			SeriesID:  uintPtr(series.ID),
		},
	}

	existing, err := store.FindInstanceBySOPUID(ctx, meta.SOPInstanceUID)
	switch {
	case err == nil:
		out.outcome = metrics.OutcomeDuplicate
		out.result.Message = MessageAlreadyExists
		out.result.InstanceID = uintPtr(existing.ID)
		return out, nil
	case !errors.Is(err, catalog.ErrNotFound):
		return nil, fmt.Errorf("looking up instance: %w", err)
	}

	path := metadata.StoragePath(meta)
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding upload: %w", err)
	}
	size, err := s.blobs.Write(ctx, path, file)
	if err != nil {
		return nil, fmt.Errorf("storing %s: %w", path, err)
	}

	instance := &catalog.Instance{
		SOPInstanceUID:    meta.SOPInstanceUID,
		SOPClassUID:       meta.SOPClassUID,
		InstanceNumber:    meta.InstanceNumber,
		FilePath:          path,
		FileSize:          size,
		TransferSyntaxUID: meta.TransferSyntaxUID,
		Rows:              meta.Rows,
		Columns:           meta.Columns,
		BitsAllocated:     meta.BitsAllocated,
		SeriesID:          series.ID,
	}
	if err := store.AddInstance(ctx, instance); err != nil {
		return nil, fmt.Errorf("creating instance: %w", err)
	}

	out.outcome = metrics.OutcomeImported
	out.result.Success = true
	out.result.Message = MessageImported
	out.result.InstanceID = uintPtr(instance.ID)
	out.filePath = path
	out.fileSize = size
	return out, nil
}

func findOrCreatePatient(ctx context.Context, store catalog.Store, meta *metadata.Metadata) (*catalog.Patient, error) {
	p, err := store.FindPatientByPatientID(ctx, meta.PatientID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("looking up patient: %w", err)
	}

	p = &catalog.Patient{
		PatientID:   meta.PatientID,
		PatientName: meta.PatientName,
		BirthDate:   toDate(meta.PatientBirthDate),
		Gender:      meta.PatientSex,
	}
	if err := store.AddPatient(ctx, p); err != nil {
		return nil, fmt.Errorf("creating patient: %w", err)
	}
	return p, nil
}

func findOrCreateStudy(ctx context.Context, store catalog.Store, meta *metadata.Metadata, patientID uint) (*catalog.Study, error) {
	st, err := store.FindStudyByUID(ctx, meta.StudyInstanceUID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("looking up study: %w", err)
	}

	st = &catalog.Study{
		StudyInstanceUID:       meta.StudyInstanceUID,
		StudyDate:              toDate(meta.StudyDate),
		StudyTime:              toTime(meta.StudyTime),
		StudyDescription:       meta.StudyDescription,
		AccessionNumber:        meta.AccessionNumber,
		ReferringPhysicianName: meta.ReferringPhysician,
		PatientID:              patientID,
	}
	if err := store.AddStudy(ctx, st); err != nil {
		return nil, fmt.Errorf("creating study: %w", err)
	}
	return st, nil
}

func findOrCreateSeries(ctx context.Context, store catalog.Store, meta *metadata.Metadata, studyID uint) (*catalog.Series, error) {
	se, err := store.FindSeriesByUID(ctx, meta.SeriesInstanceUID)
	if err == nil {
		return se, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("looking up series: %w", err)
	}

	se = &catalog.Series{
		SeriesInstanceUID: meta.SeriesInstanceUID,
		Modality:          meta.Modality,
		SeriesNumber:      meta.SeriesNumber,
		SeriesDescription: meta.SeriesDescription,
		BodyPartExamined:  meta.BodyPartExamined,
		ProtocolName:      meta.ProtocolName,
		StudyID:           studyID,
	}
	if err := store.AddSeries(ctx, se); err != nil {
		return nil, fmt.Errorf("creating series: %w", err)
	}
	return se, nil
}

// GetFile returns the stored bytes of an instance. A missing row, a missing blob
// and an empty blob all report ErrNotFound.
func (s *Service) GetFile(ctx context.Context, instanceID uint) ([]byte, error) {
	instance, err := s.store.GetInstance(ctx, instanceID)
	if errors.Is(err, catalog.ErrNotFound) {
		s.opts.Metrics.ObserveDownload(metrics.OutcomeNotFound)
		return nil, ErrNotFound
	}
	if err != nil {
		s.opts.Metrics.ObserveDownload(metrics.OutcomeError)
		return nil, err
	}

	data, err := s.blobs.Read(ctx, instance.FilePath)
	if errors.Is(err, blobstore.ErrNotFound) || (err == nil && len(data) == 0) {
		logger.Log.WithFields(logrus.Fields{
			"instance_id": instanceID,
			"file_path":   instance.FilePath,
		}).Warn("catalogued instance has no stored file")
		s.opts.Metrics.ObserveDownload(metrics.OutcomeNotFound)
		return nil, ErrNotFound
	}
	if err != nil {
		s.opts.Metrics.ObserveDownload(metrics.OutcomeError)
		return nil, err
	}

	s.opts.Metrics.ObserveDownload(metrics.OutcomeServed)
	return data, nil
}

func (s *Service) publish(ctx context.Context, publisher EventPublisher, eventType, key string, event models.ImportEvent) {
	if publisher == nil {
		return
	}
	if err := publisher.PublishEvent(ctx, eventType, eventSource, key, event.Map()); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("failed to publish import event")
	}
}

func toDate(t *time.Time) *datatypes.Date {
	if t == nil {
		return nil
	}
	d := datatypes.Date(*t)
	return &d
}

func toTime(d *time.Duration) *datatypes.Time {
	if d == nil {
		return nil
	}
	t := datatypes.Time(*d)
	return &t
}
