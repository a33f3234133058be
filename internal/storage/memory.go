package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sandeepkv93/tasksched/internal/model"
)

// MemoryStore is an in-memory Repository. Every read and write runs inside a
// single mutex, including the uniqueness check of CreateInstance.
type MemoryStore struct {
	mu        sync.Mutex
	templates map[string]model.TaskTemplate
	instances map[string]model.TaskInstance
	byDay     map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: make(map[string]model.TaskTemplate),
		instances: make(map[string]model.TaskInstance),
		byDay:     make(map[string]string),
	}
}

func (s *MemoryStore) CreateTemplate(_ context.Context, in model.TaskTemplate) error {
	if err := in.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[in.ID]; ok {
		return errors.New("storage: template already exists")
	}
	s.templates[in.ID] = in.Clone()
	return nil
}

func (s *MemoryStore) GetTemplate(_ context.Context, id string) (model.TaskTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmpl, ok := s.templates[id]
	if !ok {
		return model.TaskTemplate{}, ErrNotFound
	}
	return tmpl.Clone(), nil
}

func (s *MemoryStore) ListTemplates(_ context.Context, filter TemplateListFilter) ([]model.TaskTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return paginate(s.sortedTemplates(func(model.TaskTemplate) bool { return true }), filter.Limit, filter.Offset), nil
}

func (s *MemoryStore) ListTemplatesNeedingMaterialization(_ context.Context) ([]model.TaskTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedTemplates(func(t model.TaskTemplate) bool {
		return t.Rule.Kind != model.RecurrenceNone
	}), nil
}

func (s *MemoryStore) UpdateTemplateWatermark(_ context.Context, templateID string, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmpl, ok := s.templates[templateID]
	if !ok {
		return ErrNotFound
	}
	wm := model.StartOfDay(day)
	tmpl.LastMaterializedDate = &wm
	s.templates[templateID] = tmpl
	return nil
}

func (s *MemoryStore) InstanceExists(_ context.Context, templateID string, day time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byDay[dayKey(templateID, day)]
	return ok, nil
}

func (s *MemoryStore) CreateInstance(_ context.Context, in model.TaskInstance) (string, error) {
	if strings.TrimSpace(in.ID) == "" {
		in.ID = uuid.NewString()
	}
	if err := in.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[in.ID]; ok {
		return "", errors.New("storage: instance id already exists")
	}
	if in.TemplateID != "" {
		key := dayKey(in.TemplateID, *in.DueDate)
		if _, ok := s.byDay[key]; ok {
			return "", ErrDuplicate
		}
		s.byDay[key] = in.ID
	}
	s.instances[in.ID] = in.Clone()
	return in.ID, nil
}

func (s *MemoryStore) GetInstance(_ context.Context, id string) (model.TaskInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return model.TaskInstance{}, ErrNotFound
	}
	return inst.Clone(), nil
}

// UpdateInstance replaces an instance. Its template and due day are fixed at
// materialization and cannot be moved onto another instance's day.
func (s *MemoryStore) UpdateInstance(_ context.Context, in model.TaskInstance) error {
	if err := in.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.instances[in.ID]
	if !ok {
		return ErrNotFound
	}
	if in.TemplateID != "" {
		if owner, taken := s.byDay[dayKey(in.TemplateID, *in.DueDate)]; taken && owner != in.ID {
			return ErrDuplicate
		}
	}
	if prev.TemplateID != "" {
		delete(s.byDay, dayKey(prev.TemplateID, *prev.DueDate))
	}
	if in.TemplateID != "" {
		s.byDay[dayKey(in.TemplateID, *in.DueDate)] = in.ID
	}
	s.instances[in.ID] = in.Clone()
	return nil
}

func (s *MemoryStore) DeleteInstance(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return ErrNotFound
	}
	if inst.TemplateID != "" {
		delete(s.byDay, dayKey(inst.TemplateID, *inst.DueDate))
	}
	delete(s.instances, id)
	return nil
}

func (s *MemoryStore) ListInstances(_ context.Context, filter InstanceListFilter) ([]model.TaskInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.TaskInstance, 0, len(s.instances))
	for _, inst := range s.instances {
		if filter.TemplateID != "" && inst.TemplateID != filter.TemplateID {
			continue
		}
		out = append(out, inst.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.DueDate == nil && b.DueDate == nil:
			return a.ID < b.ID
		case a.DueDate == nil:
			return false
		case b.DueDate == nil:
			return true
		case !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		default:
			return a.ID < b.ID
		}
	})
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *MemoryStore) sortedTemplates(keep func(model.TaskTemplate) bool) []model.TaskTemplate {
	out := make([]model.TaskTemplate, 0, len(s.templates))
	for _, tmpl := range s.templates {
		if keep(tmpl) {
			out = append(out, tmpl.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
