package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the gorm-backed Store.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Patient{}, &Study{}, &Series{}, &Instance{})
}

func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *Repository) AddPatient(ctx context.Context, p *Patient) error {
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	return mapError(r.db.WithContext(ctx).Omit(clause.Associations).Create(p).Error)
}

func (r *Repository) AddStudy(ctx context.Context, s *Study) error {
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	return mapError(r.db.WithContext(ctx).Omit(clause.Associations).Create(s).Error)
}

func (r *Repository) AddSeries(ctx context.Context, s *Series) error {
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	return mapError(r.db.WithContext(ctx).Omit(clause.Associations).Create(s).Error)
}

func (r *Repository) AddInstance(ctx context.Context, i *Instance) error {
	i.CreatedAt = time.Now().UTC()
	i.UpdatedAt = i.CreatedAt
	return mapError(r.db.WithContext(ctx).Omit(clause.Associations).Create(i).Error)
}

func (r *Repository) FindPatientByPatientID(ctx context.Context, patientID string) (*Patient, error) {
	var p Patient
	result := r.db.WithContext(ctx).Where("patient_id = ?", patientID).Order("id").First(&p)
	if err := mapError(result.Error); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) FindStudyByUID(ctx context.Context, studyInstanceUID string) (*Study, error) {
	var s Study
	result := r.db.WithContext(ctx).Where("study_instance_uid = ?", studyInstanceUID).First(&s)
	if err := mapError(result.Error); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) FindSeriesByUID(ctx context.Context, seriesInstanceUID string) (*Series, error) {
	var s Series
	result := r.db.WithContext(ctx).Where("series_instance_uid = ?", seriesInstanceUID).First(&s)
	if err := mapError(result.Error); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) FindInstanceBySOPUID(ctx context.Context, sopInstanceUID string) (*Instance, error) {
	var i Instance
	result := r.db.WithContext(ctx).Where("sop_instance_uid = ?", sopInstanceUID).First(&i)
	if err := mapError(result.Error); err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *Repository) GetPatient(ctx context.Context, id uint) (*Patient, error) {
	var p Patient
	result := r.db.WithContext(ctx).
		Preload("Studies", byID).
		Preload("Studies.Series", byID).
		First(&p, "id = ?", id)
	if err := mapError(result.Error); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) GetInstance(ctx context.Context, id uint) (*Instance, error) {
	var i Instance
	if err := mapError(r.db.WithContext(ctx).First(&i, "id = ?", id).Error); err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *Repository) ListPatients(ctx context.Context) ([]Patient, error) {
	var patients []Patient
	result := r.db.WithContext(ctx).Preload("Studies", byID).Order("id").Find(&patients)
	return patients, result.Error
}

func (r *Repository) ListStudiesByPatient(ctx context.Context, patientID uint) ([]Study, error) {
	var studies []Study
	result := r.db.WithContext(ctx).
		Preload("Patient").
		Preload("Series", byID).
		Where("patient_id = ?", patientID).
		Order("id").
		Find(&studies)
	return studies, result.Error
}

func (r *Repository) ListSeriesByStudy(ctx context.Context, studyID uint) ([]Series, error) {
	var series []Series
	result := r.db.WithContext(ctx).
		Preload("Instances", byID).
		Where("study_id = ?", studyID).
		Order("id").
		Find(&series)
	return series, result.Error
}

// ListInstancesBySeries orders by instance number with nulls last; the id
// tie-break keeps repeated or missing numbers deterministic.
func (r *Repository) ListInstancesBySeries(ctx context.Context, seriesID uint) ([]Instance, error) {
	var instances []Instance
	result := r.db.WithContext(ctx).
		Where("series_id = ?", seriesID).
		Order("CASE WHEN instance_number IS NULL THEN 1 ELSE 0 END").
		Order("instance_number ASC").
		Order("id ASC").
		Find(&instances)
	return instances, result.Error
}

func (r *Repository) Transaction(ctx context.Context, opts *sql.TxOptions, fn func(Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	}, opts)
}

func byID(db *gorm.DB) *gorm.DB {
	return db.Order("id")
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, gorm.ErrForeignKeyViolated), isConstraintViolation(err):
		return fmt.Errorf("%w: %v", ErrConstraintViolation, err)
	default:
		return err
	}
}

// isConstraintViolation catches driver errors that slipped past gorm's translator.
func isConstraintViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "foreign key constraint")
}
