package catalog

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrNotFound = errors.New("catalog record not found")
	// ErrConstraintViolation is returned when an insert collides with an existing
	// study, series or SOP instance UID, typically because a concurrent import won.
	ErrConstraintViolation = errors.New("catalog constraint violation")
)

// Store persists the Patient → Study → Series → Instance hierarchy. Natural-key
// lookups return ErrNotFound when nothing matches; inserts stamp CreatedAt and
// UpdatedAt and assign the surrogate ID.
type Store interface {
	AddPatient(ctx context.Context, p *Patient) error
	AddStudy(ctx context.Context, s *Study) error
	AddSeries(ctx context.Context, s *Series) error
	AddInstance(ctx context.Context, i *Instance) error

	// FindPatientByPatientID returns the oldest patient carrying the external id;
	// the column is not unique.
	FindPatientByPatientID(ctx context.Context, patientID string) (*Patient, error)
	FindStudyByUID(ctx context.Context, studyInstanceUID string) (*Study, error)
	FindSeriesByUID(ctx context.Context, seriesInstanceUID string) (*Series, error)
	FindInstanceBySOPUID(ctx context.Context, sopInstanceUID string) (*Instance, error)

	// GetPatient loads the patient with its studies and their series.
	GetPatient(ctx context.Context, id uint) (*Patient, error)
	GetInstance(ctx context.Context, id uint) (*Instance, error)

	ListPatients(ctx context.Context) ([]Patient, error)
	ListStudiesByPatient(ctx context.Context, patientID uint) ([]Study, error)
	ListSeriesByStudy(ctx context.Context, studyID uint) ([]Series, error)
	ListInstancesBySeries(ctx context.Context, seriesID uint) ([]Instance, error)

	// Transaction runs fn against a store bound to a single transaction. A non-nil
	// error from fn rolls back every write made through the bound store.
	Transaction(ctx context.Context, opts *sql.TxOptions, fn func(Store) error) error
}

// IsolationLevel maps a configuration value to a database/sql isolation level.
// Unknown values fall back to the driver default.
func IsolationLevel(name string) sql.IsolationLevel {
	switch name {
	case "serializable":
		return sql.LevelSerializable
	case "repeatable_read", "repeatable-read":
		return sql.LevelRepeatableRead
	case "read_committed", "read-committed":
		return sql.LevelReadCommitted
	default:
		return sql.LevelDefault
	}
}
