package ingestion

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"github.com/suyashkumar/dicom/pkg/uid"
	"github.com/synaptica-ai/dicom-catalog/pkg/blobstore"
	"github.com/synaptica-ai/dicom-catalog/pkg/catalog"
	"github.com/synaptica-ai/dicom-catalog/pkg/common/config"
	"github.com/synaptica-ai/dicom-catalog/pkg/common/database"
	"github.com/synaptica-ai/dicom-catalog/pkg/common/models"
	"github.com/synaptica-ai/dicom-catalog/pkg/metadata"
)

// jsonExtractor stands in for the DICOM decoder: the test "files" are JSON
// encoded Metadata values.
type jsonExtractor struct{}

func (jsonExtractor) Extract(r io.ReadSeeker) (*metadata.Metadata, error) {
	var m metadata.Metadata
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, &metadata.ParseError{Err: err}
	}
	return &m, nil
}

func fileFor(t *testing.T, patientID, studyUID, seriesUID, sopUID string) []byte {
	t.Helper()
	data, err := json.Marshal(metadata.Metadata{
		PatientID:         patientID,
		PatientName:       "DOE^JANE",
		StudyInstanceUID:  studyUID,
		SeriesInstanceUID: seriesUID,
		SOPInstanceUID:    sopUID,
	})
	require.NoError(t, err)
	return data
}

type fixture struct {
	store *catalog.MemoryStore
	blobs *blobstore.LocalStore
	svc   *Service
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	blobs, err := blobstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	store := catalog.NewMemoryStore()
	return &fixture{store: store, blobs: blobs, svc: NewService(store, blobs, jsonExtractor{}, opts)}
}

func modes() map[string]Options {
	return map[string]Options{
		"transactional": {Transactional: true, Isolation: sql.LevelSerializable},
		"relaxed":       {},
	}
}

func TestImportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, opts := range modes() {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, opts)
			data := fileFor(t, "P1", "S1", "SE1", "I1")

			first := f.svc.Import(ctx, bytes.NewReader(data), "a.dcm")
			require.True(t, first.Success, first.Message)
			assert.Equal(t, MessageImported, first.Message)
			assert.Equal(t, "a.dcm", first.FileName)
			require.NotNil(t, first.InstanceID)

			second := f.svc.Import(ctx, bytes.NewReader(data), "a-again.dcm")
			assert.False(t, second.Success)
			assert.Equal(t, MessageAlreadyExists, second.Message)
			assert.Equal(t, *first.PatientID, *second.PatientID)
			assert.Equal(t, *first.StudyID, *second.StudyID)
			assert.Equal(t, *first.SeriesID, *second.SeriesID)
			assert.Equal(t, *first.InstanceID, *second.InstanceID)

			instances, err := f.store.ListInstancesBySeries(ctx, *first.SeriesID)
			require.NoError(t, err)
			assert.Len(t, instances, 1)

			patients, err := f.store.ListPatients(ctx)
			require.NoError(t, err)
			assert.Len(t, patients, 1)
		})
	}
}

func TestImportReusesHierarchy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{Transactional: true})

	a := f.svc.Import(ctx, bytes.NewReader(fileFor(t, "P1", "S1", "SE1", "I1")), "a.dcm")
	b := f.svc.Import(ctx, bytes.NewReader(fileFor(t, "P1", "S1", "SE1", "I2")), "b.dcm")
	require.True(t, a.Success)
	require.True(t, b.Success)

	assert.Equal(t, *a.StudyID, *b.StudyID)
	assert.Equal(t, *a.SeriesID, *b.SeriesID)
	assert.NotEqual(t, *a.InstanceID, *b.InstanceID)

	studies, err := f.store.ListStudiesByPatient(ctx, *a.PatientID)
	require.NoError(t, err)
	assert.Len(t, studies, 1)

	instances, err := f.store.ListInstancesBySeries(ctx, *a.SeriesID)
	require.NoError(t, err)
	assert.Len(t, instances, 2)
}

func TestImportStoresAtDeterministicPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	data := fileFor(t, "P1", "S1", "SE1", "I1")

	res := f.svc.Import(ctx, bytes.NewReader(data), "a.dcm")
	require.True(t, res.Success, res.Message)

	instance, err := f.store.GetInstance(ctx, *res.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "P1/S1/SE1/I1.dcm", instance.FilePath)
	assert.Equal(t, int64(len(data)), instance.FileSize)

	onDisk, err := os.ReadFile(filepath.Join(f.blobs.Root(), "P1", "S1", "SE1", "I1.dcm"))
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)
}

func TestImportConfinesHostileIdentifiers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	res := f.svc.Import(ctx, bytes.NewReader(fileFor(t, "../../etc", "S1", "SE1", "I1")), "a.dcm")
	require.True(t, res.Success, res.Message)

	instance, err := f.store.GetInstance(ctx, *res.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "____etc/S1/SE1/I1.dcm", instance.FilePath)

	_, err = os.Stat(filepath.Join(f.blobs.Root(), "____etc", "S1", "SE1", "I1.dcm"))
	assert.NoError(t, err)
}

func TestImportRejectsUndecodableFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{Transactional: true})

	res := f.svc.Import(ctx, strings.NewReader("not dicom"), "junk.dcm")
	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Message, "Error importing DICOM file:"), res.Message)
	assert.Nil(t, res.PatientID)
	assert.Nil(t, res.InstanceID)

	patients, err := f.store.ListPatients(ctx)
	require.NoError(t, err)
	assert.Empty(t, patients)
}

// blindStore never finds an existing study, like a concurrent importer that
// read before the winner committed.
type blindStore struct {
	catalog.Store
}

func (b *blindStore) FindStudyByUID(context.Context, string) (*catalog.Study, error) {
	return nil, catalog.ErrNotFound
}

func (b *blindStore) Transaction(ctx context.Context, opts *sql.TxOptions, fn func(catalog.Store) error) error {
	return b.Store.Transaction(ctx, opts, func(tx catalog.Store) error {
		return fn(&blindStore{Store: tx})
	})
}

func TestImportLosingRaceFails(t *testing.T) {
	ctx := context.Background()
	for name, opts := range modes() {
		t.Run(name, func(t *testing.T) {
			blobs, err := blobstore.NewLocalStore(t.TempDir())
			require.NoError(t, err)
			store := catalog.NewMemoryStore()
			svc := NewService(&blindStore{Store: store}, blobs, jsonExtractor{}, opts)

			first := svc.Import(ctx, bytes.NewReader(fileFor(t, "P1", "S1", "SE1", "I1")), "a.dcm")
			require.True(t, first.Success, first.Message)

			second := svc.Import(ctx, bytes.NewReader(fileFor(t, "P1", "S1", "SE1", "I2")), "b.dcm")
			assert.False(t, second.Success)
			assert.Contains(t, second.Message, catalog.ErrConstraintViolation.Error())

			// A retry against the real store takes the find path.
			retry := NewService(store, blobs, jsonExtractor{}, opts).
				Import(ctx, bytes.NewReader(fileFor(t, "P1", "S1", "SE1", "I2")), "b.dcm")
			require.True(t, retry.Success, retry.Message)
			assert.Equal(t, *first.StudyID, *retry.StudyID)
		})
	}
}

type brokenBlobs struct{}

func (brokenBlobs) Write(context.Context, string, io.Reader) (int64, error) {
	return 0, fmt.Errorf("%w: disk full", blobstore.ErrUnavailable)
}

func (brokenBlobs) Read(context.Context, string) ([]byte, error) {
	return nil, blobstore.ErrUnavailable
}

func TestImportBlobFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("transactional rolls back", func(t *testing.T) {
		store := catalog.NewMemoryStore()
		svc := NewService(store, brokenBlobs{}, jsonExtractor{}, Options{Transactional: true})

		res := svc.Import(ctx, bytes.NewReader(fileFor(t, "P1", "S1", "SE1", "I1")), "a.dcm")
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "disk full")

		patients, err := store.ListPatients(ctx)
		require.NoError(t, err)
		assert.Empty(t, patients)
	})

	t.Run("relaxed keeps parents", func(t *testing.T) {
		store := catalog.NewMemoryStore()
		svc := NewService(store, brokenBlobs{}, jsonExtractor{}, Options{})

		res := svc.Import(ctx, bytes.NewReader(fileFor(t, "P1", "S1", "SE1", "I1")), "a.dcm")
		assert.False(t, res.Success)

		_, err := store.FindSeriesByUID(ctx, "SE1")
		assert.NoError(t, err)
		_, err = store.FindInstanceBySOPUID(ctx, "I1")
		assert.ErrorIs(t, err, catalog.ErrNotFound)
	})
}

func TestImportSerialisesNewPatientWithLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{Locker: NewLocalLocker()})

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := fileFor(t, "P-NEW", "S1", "SE1", fmt.Sprintf("I%d", i))
			results[i] = f.svc.Import(ctx, bytes.NewReader(data), fmt.Sprintf("%d.dcm", i))
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		assert.True(t, res.Success, res.Message)
	}
	patients, err := f.store.ListPatients(ctx)
	require.NoError(t, err)
	assert.Len(t, patients, 1)
}

type recordedEvent struct {
	eventType string
	key       string
	data      map[string]interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) PublishEvent(_ context.Context, eventType, _ string, key string, data map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{eventType: eventType, key: key, data: data})
	return nil
}

func TestImportPublishesEvents(t *testing.T) {
	ctx := context.Background()
	events := &recordingPublisher{}
	dlq := &recordingPublisher{}
	f := newFixture(t, Options{Events: events, DLQ: dlq})

	res := f.svc.Import(ctx, bytes.NewReader(fileFor(t, "P1", "S1", "SE1", "I1")), "a.dcm")
	require.True(t, res.Success)
	f.svc.Import(ctx, bytes.NewReader(fileFor(t, "P1", "S1", "SE1", "I1")), "dup.dcm")
	f.svc.Import(ctx, strings.NewReader("garbage"), "bad.dcm")

	require.Len(t, events.events, 1)
	assert.Equal(t, models.EventInstanceImported, events.events[0].eventType)
	assert.Equal(t, "I1", events.events[0].key)
	assert.Equal(t, *res.InstanceID, events.events[0].data["instance_id"])

	require.Len(t, dlq.events, 1)
	assert.Equal(t, models.EventInstanceImportFailed, dlq.events[0].eventType)
	assert.Equal(t, "bad.dcm", dlq.events[0].data["file_name"])
}

type failingPublisher struct{}

func (failingPublisher) PublishEvent(context.Context, string, string, string, map[string]interface{}) error {
	return errors.New("broker down")
}

func TestImportIgnoresPublishFailure(t *testing.T) {
	f := newFixture(t, Options{Events: failingPublisher{}})
	res := f.svc.Import(context.Background(), bytes.NewReader(fileFor(t, "P1", "S1", "SE1", "I1")), "a.dcm")
	assert.True(t, res.Success)
}

func TestGetFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	data := fileFor(t, "P1", "S1", "SE1", "I1")

	res := f.svc.Import(ctx, bytes.NewReader(data), "a.dcm")
	require.True(t, res.Success)

	got, err := f.svc.GetFile(ctx, *res.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = f.svc.GetFile(ctx, 4242)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, os.Remove(filepath.Join(f.blobs.Root(), "P1", "S1", "SE1", "I1.dcm")))
	_, err = f.svc.GetFile(ctx, *res.InstanceID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetFileTreatsEmptyBlobAsMissing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	res := f.svc.Import(ctx, bytes.NewReader(fileFor(t, "P1", "S1", "SE1", "I1")), "a.dcm")
	require.True(t, res.Success)

	_, err := f.blobs.Write(ctx, "P1/S1/SE1/I1.dcm", strings.NewReader(""))
	require.NoError(t, err)

	_, err = f.svc.GetFile(ctx, *res.InstanceID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestImportAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(&config.Config{
		DBDriver:   database.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "catalog.db"),
	})
	require.NoError(t, err)
	defer database.Close(db)

	repo := catalog.NewRepository(db)
	require.NoError(t, repo.AutoMigrate())
	blobs, err := blobstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	svc := NewService(repo, blobs, jsonExtractor{}, Options{
		Transactional: true,
		Isolation:     catalog.IsolationLevel("serializable"),
	})

	first := svc.Import(ctx, bytes.NewReader(fileFor(t, "P1", "S1", "SE1", "I1")), "a.dcm")
	require.True(t, first.Success, first.Message)
	second := svc.Import(ctx, bytes.NewReader(fileFor(t, "P1", "S1", "SE1", "I1")), "a.dcm")
	assert.False(t, second.Success)
	assert.Equal(t, *first.InstanceID, *second.InstanceID)

	got, err := svc.GetFile(ctx, *first.InstanceID)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}

// part10File encodes a minimal explicit VR little endian DICOM file.
func part10File(t *testing.T, patientID, studyUID, seriesUID, sopUID string) []byte {
	t.Helper()
	values := []struct {
		tag   tag.Tag
		value interface{}
	}{
		{tag.MediaStorageSOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.2"}},
		{tag.MediaStorageSOPInstanceUID, []string{sopUID}},
		{tag.TransferSyntaxUID, []string{uid.ExplicitVRLittleEndian}},
		{tag.SOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.2"}},
		{tag.SOPInstanceUID, []string{sopUID}},
		{tag.Modality, []string{"MR"}},
		{tag.PatientName, []string{"DOE^JANE"}},
		{tag.PatientID, []string{patientID}},
		{tag.StudyInstanceUID, []string{studyUID}},
		{tag.SeriesInstanceUID, []string{seriesUID}},
		{tag.InstanceNumber, []string{"1"}},
	}

	var ds dicom.Dataset
	for _, v := range values {
		elem, err := dicom.NewElement(v.tag, v.value)
		require.NoError(t, err)
		ds.Elements = append(ds.Elements, elem)
	}

	var buf bytes.Buffer
	require.NoError(t, dicom.Write(&buf, ds, dicom.SkipVRVerification()))
	return buf.Bytes()
}

func TestImportDecodesDICOMStream(t *testing.T) {
	ctx := context.Background()
	blobs, err := blobstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	store := catalog.NewMemoryStore()
	svc := NewService(store, blobs, metadata.NewDecoder(), Options{Transactional: true})

	data := part10File(t, "P1", "1.2.3", "1.2.3.4", "1.2.3.4.5")

	first := svc.Import(ctx, bytes.NewReader(data), "scan.dcm")
	require.True(t, first.Success, first.Message)
	assert.Equal(t, MessageImported, first.Message)

	second := svc.Import(ctx, bytes.NewReader(data), "scan.dcm")
	assert.False(t, second.Success)
	assert.Equal(t, MessageAlreadyExists, second.Message)
	assert.Equal(t, *first.PatientID, *second.PatientID)
	assert.Equal(t, *first.InstanceID, *second.InstanceID)

	instance, err := store.GetInstance(ctx, *first.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "P1/1.2.3/1.2.3.4/1.2.3.4.5.dcm", instance.FilePath)
	assert.Equal(t, int64(len(data)), instance.FileSize)
	require.NotNil(t, instance.TransferSyntaxUID)
	assert.Equal(t, uid.ExplicitVRLittleEndian, *instance.TransferSyntaxUID)
	require.NotNil(t, instance.InstanceNumber)
	assert.Equal(t, 1, *instance.InstanceNumber)

	stored, err := svc.GetFile(ctx, *first.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}
