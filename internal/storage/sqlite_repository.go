package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/sandeepkv93/tasksched/internal/delivery"
	"github.com/sandeepkv93/tasksched/internal/model"
)

const sqliteTimeLayout = time.RFC3339Nano

// SQLiteRepository stores templates and instances in SQLite. Calendar days
// are stored as YYYY-MM-DD text and read back in the repository location.
// It also implements delivery.Journal over the scheduled_triggers table.
type SQLiteRepository struct {
	db  *sql.DB
	loc *time.Location
}

type Option func(*SQLiteRepository)

func WithLocation(loc *time.Location) Option {
	return func(r *SQLiteRepository) {
		if loc != nil {
			r.loc = loc
		}
	}
}

func NewSQLiteRepository(db *sql.DB, opts ...Option) (*SQLiteRepository, error) {
	if db == nil {
		return nil, errors.New("storage: nil db")
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	repo := &SQLiteRepository{db: db, loc: time.Local}
	for _, opt := range opts {
		opt(repo)
	}
	return repo, nil
}

// OpenSQLite opens path with a single connection and applies migrations.
func OpenSQLite(path string, opts ...Option) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := MigrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	repo, err := NewSQLiteRepository(db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

const templateColumns = `id, title, category, rule_kind, rule_interval, rule_weekdays, anchor_date, time_of_day,
	reminder_offsets, delivery_mode, lock_screen_visible, last_materialized_date, created_at`

func (r *SQLiteRepository) CreateTemplate(ctx context.Context, in model.TaskTemplate) error {
	if err := in.Validate(); err != nil {
		return err
	}
	offsets, err := encodeOffsets(in.ReminderOffsets)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO task_templates (`+templateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.Title, in.Category, string(in.Rule.Kind), in.Rule.Interval, encodeWeekdays(in.Rule.Weekdays),
		formatDay(in.Anchor), nullTimeOfDay(in.TimeOfDay), offsets, string(in.DeliveryMode),
		boolInt(in.LockScreenVisible), nullDay(in.LastMaterializedDate), mustTime(in.CreatedAt),
	)
	return err
}

func (r *SQLiteRepository) GetTemplate(ctx context.Context, id string) (model.TaskTemplate, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM task_templates WHERE id = ?`, id)
	tmpl, err := r.scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TaskTemplate{}, ErrNotFound
		}
		return model.TaskTemplate{}, err
	}
	return tmpl, nil
}

func (r *SQLiteRepository) ListTemplates(ctx context.Context, filter TemplateListFilter) ([]model.TaskTemplate, error) {
	args := make([]any, 0, 2)
	query := `SELECT ` + templateColumns + ` FROM task_templates ORDER BY created_at ASC, id ASC` +
		applyPagination(&args, filter.Limit, filter.Offset)
	return r.queryTemplates(ctx, query, args...)
}

func (r *SQLiteRepository) ListTemplatesNeedingMaterialization(ctx context.Context) ([]model.TaskTemplate, error) {
	return r.queryTemplates(ctx, `SELECT `+templateColumns+` FROM task_templates
		WHERE rule_kind <> ? ORDER BY created_at ASC, id ASC`, string(model.RecurrenceNone))
}

func (r *SQLiteRepository) UpdateTemplateWatermark(ctx context.Context, templateID string, day time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE task_templates SET last_materialized_date = ? WHERE id = ?`,
		formatDay(day), templateID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

const instanceColumns = `id, template_id, title, category, due_date, time_of_day, reminder_offsets,
	delivery_mode, lock_screen_visible, completed, completed_at, created_at`

func (r *SQLiteRepository) InstanceExists(ctx context.Context, templateID string, day time.Time) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM task_instances WHERE template_id = ? AND due_date = ?`,
		templateID, formatDay(day)).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreateInstance relies on the unique (template_id, due_date) index, so the
// uniqueness check and the insert are one statement.
func (r *SQLiteRepository) CreateInstance(ctx context.Context, in model.TaskInstance) (string, error) {
	if strings.TrimSpace(in.ID) == "" {
		in.ID = uuid.NewString()
	}
	if err := in.Validate(); err != nil {
		return "", err
	}
	offsets, err := encodeOffsets(in.ReminderOffsets)
	if err != nil {
		return "", err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO task_instances (`+instanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, nullString(in.TemplateID), in.Title, in.Category, nullDay(in.DueDate), nullTimeOfDay(in.TimeOfDay),
		offsets, string(in.DeliveryMode), boolInt(in.LockScreenVisible), boolInt(in.Completed),
		nullTime(in.CompletedAt), mustTime(in.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrDuplicate
		}
		return "", err
	}
	return in.ID, nil
}

func (r *SQLiteRepository) GetInstance(ctx context.Context, id string) (model.TaskInstance, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM task_instances WHERE id = ?`, id)
	inst, err := r.scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TaskInstance{}, ErrNotFound
		}
		return model.TaskInstance{}, err
	}
	return inst, nil
}

func (r *SQLiteRepository) UpdateInstance(ctx context.Context, in model.TaskInstance) error {
	if err := in.Validate(); err != nil {
		return err
	}
	offsets, err := encodeOffsets(in.ReminderOffsets)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE task_instances
		SET template_id = ?, title = ?, category = ?, due_date = ?, time_of_day = ?, reminder_offsets = ?,
			delivery_mode = ?, lock_screen_visible = ?, completed = ?, completed_at = ?
		WHERE id = ?`,
		nullString(in.TemplateID), in.Title, in.Category, nullDay(in.DueDate), nullTimeOfDay(in.TimeOfDay), offsets,
		string(in.DeliveryMode), boolInt(in.LockScreenVisible), boolInt(in.Completed), nullTime(in.CompletedAt), in.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return checkRowsAffected(res)
}

func (r *SQLiteRepository) DeleteInstance(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM task_instances WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (r *SQLiteRepository) ListInstances(ctx context.Context, filter InstanceListFilter) ([]model.TaskInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM task_instances`
	args := make([]any, 0, 3)
	if filter.TemplateID != "" {
		query += ` WHERE template_id = ?`
		args = append(args, filter.TemplateID)
	}
	query += ` ORDER BY due_date IS NULL, due_date ASC, id ASC`
	query += applyPagination(&args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.TaskInstance, 0)
	for rows.Next() {
		inst, scanErr := r.scanInstance(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) SaveTrigger(ctx context.Context, tr delivery.Trigger) error {
	payload, err := json.Marshal(tr)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO scheduled_triggers (trigger_key, instance_id, offset_index, fire_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(trigger_key) DO UPDATE SET fire_at = excluded.fire_at, payload = excluded.payload`,
		tr.Key.String(), tr.Key.InstanceID, tr.Key.Index, mustTime(tr.FireAt), string(payload),
	)
	return err
}

func (r *SQLiteRepository) DeleteTrigger(ctx context.Context, key delivery.Key) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_triggers WHERE trigger_key = ?`, key.String())
	return err
}

func (r *SQLiteRepository) PendingTriggers(ctx context.Context) ([]delivery.Trigger, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT trigger_key, payload FROM scheduled_triggers ORDER BY fire_at ASC, trigger_key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]delivery.Trigger, 0)
	for rows.Next() {
		var key, payload string
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, err
		}
		var tr delivery.Trigger
		if err := json.Unmarshal([]byte(payload), &tr); err != nil {
			return nil, fmt.Errorf("decode trigger %s: %w", key, err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) queryTemplates(ctx context.Context, query string, args ...any) ([]model.TaskTemplate, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.TaskTemplate, 0)
	for rows.Next() {
		tmpl, scanErr := r.scanTemplate(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, tmpl)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) scanTemplate(s scanner) (model.TaskTemplate, error) {
	var out model.TaskTemplate
	var kind, weekdays, anchor, offsets, mode, created string
	var tod, watermark sql.NullString
	var lockScreen int
	if err := s.Scan(&out.ID, &out.Title, &out.Category, &kind, &out.Rule.Interval, &weekdays, &anchor, &tod,
		&offsets, &mode, &lockScreen, &watermark, &created); err != nil {
		return model.TaskTemplate{}, err
	}
	var err error
	out.Rule.Kind = model.RecurrenceKind(kind)
	if out.Rule.Weekdays, err = decodeWeekdays(weekdays); err != nil {
		return model.TaskTemplate{}, err
	}
	if out.Anchor, err = model.ParseDate(anchor, r.loc); err != nil {
		return model.TaskTemplate{}, err
	}
	if out.TimeOfDay, err = parseNullableTimeOfDay(tod); err != nil {
		return model.TaskTemplate{}, err
	}
	if out.ReminderOffsets, err = decodeOffsets(offsets); err != nil {
		return model.TaskTemplate{}, err
	}
	if out.LastMaterializedDate, err = r.parseNullableDay(watermark); err != nil {
		return model.TaskTemplate{}, err
	}
	if out.CreatedAt, err = parseRequiredTime(created); err != nil {
		return model.TaskTemplate{}, err
	}
	out.DeliveryMode = model.DeliveryMode(mode)
	out.LockScreenVisible = lockScreen == 1
	return out, nil
}

func (r *SQLiteRepository) scanInstance(s scanner) (model.TaskInstance, error) {
	var out model.TaskInstance
	var templateID, due, tod, completedAt sql.NullString
	var offsets, mode, created string
	var lockScreen, completed int
	if err := s.Scan(&out.ID, &templateID, &out.Title, &out.Category, &due, &tod, &offsets, &mode,
		&lockScreen, &completed, &completedAt, &created); err != nil {
		return model.TaskInstance{}, err
	}
	var err error
	out.TemplateID = templateID.String
	if out.DueDate, err = r.parseNullableDay(due); err != nil {
		return model.TaskInstance{}, err
	}
	if out.TimeOfDay, err = parseNullableTimeOfDay(tod); err != nil {
		return model.TaskInstance{}, err
	}
	if out.ReminderOffsets, err = decodeOffsets(offsets); err != nil {
		return model.TaskInstance{}, err
	}
	if out.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return model.TaskInstance{}, err
	}
	if out.CreatedAt, err = parseRequiredTime(created); err != nil {
		return model.TaskInstance{}, err
	}
	out.DeliveryMode = model.DeliveryMode(mode)
	out.LockScreenVisible = lockScreen == 1
	out.Completed = completed == 1
	return out, nil
}

func (r *SQLiteRepository) parseNullableDay(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	day, err := model.ParseDate(v.String, r.loc)
	if err != nil {
		return nil, err
	}
	return &day, nil
}

func formatDay(v time.Time) string {
	return v.Format(model.DateLayout)
}

func nullDay(v *time.Time) any {
	if v == nil {
		return nil
	}
	return formatDay(*v)
}

func nullTimeOfDay(v *model.TimeOfDay) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func parseNullableTimeOfDay(v sql.NullString) (*model.TimeOfDay, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	tod, err := model.ParseTimeOfDay(v.String)
	if err != nil {
		return nil, err
	}
	return &tod, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func encodeOffsets(v []int) (string, error) {
	if v == nil {
		v = []int{}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeOffsets(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []int
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode reminder offsets: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func encodeWeekdays(days []time.Weekday) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(int(d)))
	}
	return strings.Join(parts, ",")
}

func decodeWeekdays(raw string) ([]time.Weekday, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]time.Weekday, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("decode weekdays %q: %w", raw, err)
		}
		out = append(out, time.Weekday(n))
	}
	return out, nil
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC().Format(sqliteTimeLayout)
}

func mustTime(v time.Time) string {
	return v.UTC().Format(sqliteTimeLayout)
}

func parseNullableTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	tm, err := time.Parse(sqliteTimeLayout, v.String)
	if err != nil {
		return nil, err
	}
	return &tm, nil
}

func parseRequiredTime(v string) (time.Time, error) {
	return time.Parse(sqliteTimeLayout, v)
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func applyPagination(args *[]any, limit, offset int) string {
	sql := ""
	if limit > 0 {
		sql += " LIMIT ?"
		*args = append(*args, limit)
	}
	if offset > 0 {
		if limit <= 0 {
			sql += " LIMIT -1"
		}
		sql += " OFFSET ?"
		*args = append(*args, offset)
	}
	return sql
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func checkRowsAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
