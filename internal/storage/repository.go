package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/tasksched/internal/model"
)

var (
	ErrNotFound  = errors.New("storage: not found")
	ErrDuplicate = errors.New("storage: instance already exists for template and day")
)

// Store is what the materializer needs. CreateInstance must check the
// (template, day) uniqueness atomically with the insert and return
// ErrDuplicate instead of overwriting.
type Store interface {
	ListTemplatesNeedingMaterialization(ctx context.Context) ([]model.TaskTemplate, error)
	InstanceExists(ctx context.Context, templateID string, day time.Time) (bool, error)
	CreateInstance(ctx context.Context, in model.TaskInstance) (string, error)
	UpdateTemplateWatermark(ctx context.Context, templateID string, day time.Time) error
}

type Repository interface {
	Store

	CreateTemplate(ctx context.Context, in model.TaskTemplate) error
	GetTemplate(ctx context.Context, id string) (model.TaskTemplate, error)
	ListTemplates(ctx context.Context, filter TemplateListFilter) ([]model.TaskTemplate, error)

	GetInstance(ctx context.Context, id string) (model.TaskInstance, error)
	UpdateInstance(ctx context.Context, in model.TaskInstance) error
	DeleteInstance(ctx context.Context, id string) error
	ListInstances(ctx context.Context, filter InstanceListFilter) ([]model.TaskInstance, error)
}

type TemplateListFilter struct {
	Limit  int
	Offset int
}

type InstanceListFilter struct {
	TemplateID string
	Limit      int
	Offset     int
}

func dayKey(templateID string, day time.Time) string {
	return templateID + "|" + day.Format(model.DateLayout)
}
