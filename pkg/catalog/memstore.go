package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memoryState struct {
	patients  map[uint]Patient
	studies   map[uint]Study
	series    map[uint]Series
	instances map[uint]Instance
	nextID    map[string]uint
}

func newMemoryState() memoryState {
	return memoryState{
		patients:  map[uint]Patient{},
		studies:   map[uint]Study{},
		series:    map[uint]Series{},
		instances: map[uint]Instance{},
		nextID:    map[string]uint{},
	}
}

func (s memoryState) clone() memoryState {
	c := newMemoryState()
	for k, v := range s.patients {
		c.patients[k] = v
	}
	for k, v := range s.studies {
		c.studies[k] = v
	}
	for k, v := range s.series {
		c.series[k] = v
	}
	for k, v := range s.instances {
		c.instances[k] = v
	}
	for k, v := range s.nextID {
		c.nextID[k] = v
	}
	return c
}

func (s *memoryState) allocate(table string) uint {
	s.nextID[table]++
	return s.nextID[table]
}

// MemoryStore is an in-process Store enforcing the same keys and foreign keys as
// the relational schema. It backs DB_DRIVER=memory and the pipeline tests.
type MemoryStore struct {
	mu    sync.RWMutex
	state memoryState
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState(), now: func() time.Time { return time.Now().UTC() }}
}

func (m *MemoryStore) AddPatient(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p.ID = m.state.allocate("patients")
	p.CreatedAt = m.now()
	p.UpdatedAt = p.CreatedAt
	row := *p
	row.Studies = nil
	m.state.patients[p.ID] = row
	return nil
}

func (m *MemoryStore) AddStudy(_ context.Context, s *Study) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.state.patients[s.PatientID]; !ok {
		return fmt.Errorf("%w: patient %d does not exist", ErrConstraintViolation, s.PatientID)
	}
	for _, existing := range m.state.studies {
		if existing.StudyInstanceUID == s.StudyInstanceUID {
			return fmt.Errorf("%w: duplicate study_instance_uid %q", ErrConstraintViolation, s.StudyInstanceUID)
		}
	}
	s.ID = m.state.allocate("studies")
	s.CreatedAt = m.now()
	s.UpdatedAt = s.CreatedAt
	row := *s
	row.Patient = nil
	row.Series = nil
	m.state.studies[s.ID] = row
	return nil
}

func (m *MemoryStore) AddSeries(_ context.Context, s *Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.state.studies[s.StudyID]; !ok {
		return fmt.Errorf("%w: study %d does not exist", ErrConstraintViolation, s.StudyID)
	}
	for _, existing := range m.state.series {
		if existing.SeriesInstanceUID == s.SeriesInstanceUID {
			return fmt.Errorf("%w: duplicate series_instance_uid %q", ErrConstraintViolation, s.SeriesInstanceUID)
		}
	}
	s.ID = m.state.allocate("series")
	s.CreatedAt = m.now()
	s.UpdatedAt = s.CreatedAt
	row := *s
	row.Instances = nil
	m.state.series[s.ID] = row
	return nil
}

func (m *MemoryStore) AddInstance(_ context.Context, i *Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.state.series[i.SeriesID]; !ok {
		return fmt.Errorf("%w: series %d does not exist", ErrConstraintViolation, i.SeriesID)
	}
	for _, existing := range m.state.instances {
		if existing.SOPInstanceUID == i.SOPInstanceUID {
			return fmt.Errorf("%w: duplicate sop_instance_uid %q", ErrConstraintViolation, i.SOPInstanceUID)
		}
	}
	i.ID = m.state.allocate("instances")
	i.CreatedAt = m.now()
	i.UpdatedAt = i.CreatedAt
	m.state.instances[i.ID] = *i
	return nil
}

func (m *MemoryStore) FindPatientByPatientID(_ context.Context, patientID string) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *Patient
	for _, p := range m.state.patients {
		if p.PatientID == patientID && (found == nil || p.ID < found.ID) {
			p := p
			found = &p
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (m *MemoryStore) FindStudyByUID(_ context.Context, uid string) (*Study, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.state.studies {
		if s.StudyInstanceUID == uid {
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindSeriesByUID(_ context.Context, uid string) (*Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.state.series {
		if s.SeriesInstanceUID == uid {
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindInstanceBySOPUID(_ context.Context, uid string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, i := range m.state.instances {
		if i.SOPInstanceUID == uid {
			return &i, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetPatient(_ context.Context, id uint) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.state.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Studies = m.studiesOf(id)
	for idx := range p.Studies {
		p.Studies[idx].Series = m.seriesOf(p.Studies[idx].ID)
	}
	return &p, nil
}

func (m *MemoryStore) GetInstance(_ context.Context, id uint) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.state.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &i, nil
}

func (m *MemoryStore) ListPatients(_ context.Context) ([]Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Patient, 0, len(m.state.patients))
	for _, p := range m.state.patients {
		p.Studies = m.studiesOf(p.ID)
		out = append(out, p)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (m *MemoryStore) ListStudiesByPatient(_ context.Context, patientID uint) ([]Study, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	studies := m.studiesOf(patientID)
	for idx := range studies {
		if p, ok := m.state.patients[patientID]; ok {
			studies[idx].Patient = &p
		}
		studies[idx].Series = m.seriesOf(studies[idx].ID)
	}
	return studies, nil
}

func (m *MemoryStore) ListSeriesByStudy(_ context.Context, studyID uint) ([]Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	series := m.seriesOf(studyID)
	for idx := range series {
		series[idx].Instances = m.instancesOf(series[idx].ID)
	}
	return series, nil
}

func (m *MemoryStore) ListInstancesBySeries(_ context.Context, seriesID uint) ([]Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	instances := m.instancesOf(seriesID)
	sort.SliceStable(instances, func(a, b int) bool {
		na, nb := instances[a].InstanceNumber, instances[b].InstanceNumber
		switch {
		case na == nil && nb == nil:
			return instances[a].ID < instances[b].ID
		case na == nil:
			return false
		case nb == nil:
			return true
		case *na != *nb:
			return *na < *nb
		default:
			return instances[a].ID < instances[b].ID
		}
	})
	return instances, nil
}

// Transaction runs fn against a private copy of the state and publishes the
// copy only when fn succeeds. The store stays locked for the whole call, so
// writers outside the transaction wait rather than lose rows to a rollback.
// Isolation options are irrelevant in memory.
func (m *MemoryStore) Transaction(_ context.Context, _ *sql.TxOptions, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &MemoryStore{state: m.state.clone(), now: m.now}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *MemoryStore) studiesOf(patientID uint) []Study {
	var out []Study
	for _, s := range m.state.studies {
		if s.PatientID == patientID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func (m *MemoryStore) seriesOf(studyID uint) []Series {
	var out []Series
	for _, s := range m.state.series {
		if s.StudyID == studyID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func (m *MemoryStore) instancesOf(seriesID uint) []Instance {
	var out []Instance
	for _, i := range m.state.instances {
		if i.SeriesID == seriesID {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}
