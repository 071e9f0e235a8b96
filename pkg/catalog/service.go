package catalog

import (
	"context"
	"fmt"
)

// Service projects stored entities into the summary views served by the read
// endpoints. Every call goes back to the Store.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) ListPatients(ctx context.Context) ([]PatientSummary, error) {
	patients, err := s.store.ListPatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing patients: %w", err)
	}

	out := make([]PatientSummary, 0, len(patients))
	for _, p := range patients {
		out = append(out, newPatientSummary(p))
	}
	return out, nil
}

func (s *Service) GetPatient(ctx context.Context, id uint) (*PatientSummary, error) {
	p, err := s.store.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}
	summary := newPatientSummary(*p)
	return &summary, nil
}

func (s *Service) GetPatientDetail(ctx context.Context, id uint) (*PatientDetail, error) {
	p, err := s.store.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &PatientDetail{
		ID:          p.ID,
		PatientID:   p.PatientID,
		PatientName: p.PatientName,
		BirthDate:   dateValue(p.BirthDate),
		Gender:      p.Gender,
		Studies:     make([]StudySummary, 0, len(p.Studies)),
	}
	for _, study := range p.Studies {
		detail.Studies = append(detail.Studies, newStudySummary(study, p.PatientName))
	}
	return detail, nil
}

func (s *Service) ListStudiesForPatient(ctx context.Context, patientID uint) ([]StudySummary, error) {
	studies, err := s.store.ListStudiesByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("listing studies for patient %d: %w", patientID, err)
	}

	out := make([]StudySummary, 0, len(studies))
	for _, study := range studies {
		name := ""
		if study.Patient != nil {
			name = study.Patient.PatientName
		}
		out = append(out, newStudySummary(study, name))
	}
	return out, nil
}

func (s *Service) ListSeriesForStudy(ctx context.Context, studyID uint) ([]SeriesSummary, error) {
	series, err := s.store.ListSeriesByStudy(ctx, studyID)
	if err != nil {
		return nil, fmt.Errorf("listing series for study %d: %w", studyID, err)
	}

	out := make([]SeriesSummary, 0, len(series))
	for _, se := range series {
		out = append(out, newSeriesSummary(se))
	}
	return out, nil
}

func (s *Service) ListInstancesForSeries(ctx context.Context, seriesID uint) ([]InstanceSummary, error) {
	instances, err := s.store.ListInstancesBySeries(ctx, seriesID)
	if err != nil {
		return nil, fmt.Errorf("listing instances for series %d: %w", seriesID, err)
	}

	out := make([]InstanceSummary, 0, len(instances))
	for _, i := range instances {
		out = append(out, newInstanceSummary(i))
	}
	return out, nil
}
