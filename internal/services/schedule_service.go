package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/seralvz/stackvault/internal/models"
)

// Schedule task types the runner understands.
const (
	TaskBackup    = "backup"
	TaskRetention = "retention"
)

// ScheduleServiceProvider defines the interface for schedule services.
type ScheduleServiceProvider interface {
	CreateSchedule(schedule models.Schedule) (models.Schedule, error)
	GetScheduleByID(scheduleID string) (models.Schedule, error)
	GetAllSchedules() ([]models.Schedule, error)
	GetAllActiveSchedules() ([]models.Schedule, error)
	UpdateSchedule(scheduleID string, schedule models.Schedule) (models.Schedule, error)
	DeleteSchedule(scheduleID string) error
	UpdateScheduleRunTimes(scheduleID string, lastRun time.Time, nextRun time.Time) error
}

// ScheduleService provides business logic for recurring maintenance tasks.
type ScheduleService struct {
	db           *sql.DB
	eventService EventServiceProvider
}

// NewScheduleService creates a new ScheduleService.
func NewScheduleService(db *sql.DB, eventService EventServiceProvider) *ScheduleService {
	return &ScheduleService{db: db, eventService: eventService}
}

func (s *ScheduleService) validate(schedule models.Schedule) (cron.Schedule, error) {
	if schedule.TaskType != TaskBackup && schedule.TaskType != TaskRetention {
		return nil, fmt.Errorf("unknown task type %q", schedule.TaskType)
	}
	cronSchedule, err := cron.ParseStandard(schedule.CronExpression)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return cronSchedule, nil
}

// CreateSchedule validates and saves a new schedule.
func (s *ScheduleService) CreateSchedule(schedule models.Schedule) (models.Schedule, error) {
	cronSchedule, err := s.validate(schedule)
	if err != nil {
		return models.Schedule{}, err
	}

	if schedule.ID == "" {
		schedule.ID = uuid.New().String()
	}
	schedule.PrepareForDB()
	nextRun := cronSchedule.Next(time.Now())
	schedule.NextRunAt = &nextRun

	stmt, err := s.db.Prepare(`
		INSERT INTO schedules (id, name, cron_expression, task_type, payload_json, is_active, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return models.Schedule{}, err
	}
	defer stmt.Close()

	_, err = stmt.Exec(schedule.ID, schedule.Name, schedule.CronExpression, schedule.TaskType, schedule.PayloadJSON, schedule.IsActive, schedule.NextRunAt)
	if err != nil {
		return models.Schedule{}, err
	}

	s.eventService.CreateEvent("schedule.create", "info", fmt.Sprintf("Schedule '%s' (%s) created.", schedule.Name, schedule.TaskType), nil)
	return s.GetScheduleByID(schedule.ID)
}

// GetScheduleByID retrieves one schedule.
func (s *ScheduleService) GetScheduleByID(scheduleID string) (models.Schedule, error) {
	row := s.db.QueryRow(`
		SELECT id, name, cron_expression, task_type, payload_json, is_active, last_run_at, next_run_at, created_at
		FROM schedules WHERE id = ?`, scheduleID)

	var schedule models.Schedule
	var payload sql.NullString
	if err := row.Scan(&schedule.ID, &schedule.Name, &schedule.CronExpression, &schedule.TaskType,
		&payload, &schedule.IsActive, &schedule.LastRunAt, &schedule.NextRunAt, &schedule.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return models.Schedule{}, fmt.Errorf("schedule with id %s not found", scheduleID)
		}
		return models.Schedule{}, err
	}
	schedule.PayloadJSON = payload.String
	schedule.PrepareForAPI()
	return schedule, nil
}

// GetAllSchedules retrieves every schedule.
func (s *ScheduleService) GetAllSchedules() ([]models.Schedule, error) {
	return s.querySchedules(`
		SELECT id, name, cron_expression, task_type, payload_json, is_active, last_run_at, next_run_at, created_at
		FROM schedules ORDER BY created_at DESC`)
}

// GetAllActiveSchedules retrieves the schedules the runner should consider.
func (s *ScheduleService) GetAllActiveSchedules() ([]models.Schedule, error) {
	return s.querySchedules(`
		SELECT id, name, cron_expression, task_type, payload_json, is_active, last_run_at, next_run_at, created_at
		FROM schedules WHERE is_active = 1`)
}

func (s *ScheduleService) querySchedules(query string) ([]models.Schedule, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []models.Schedule
	for rows.Next() {
		var schedule models.Schedule
		var payload sql.NullString
		if err := rows.Scan(&schedule.ID, &schedule.Name, &schedule.CronExpression, &schedule.TaskType,
			&payload, &schedule.IsActive, &schedule.LastRunAt, &schedule.NextRunAt, &schedule.CreatedAt); err != nil {
			return nil, err
		}
		schedule.PayloadJSON = payload.String
		schedule.PrepareForAPI()
		schedules = append(schedules, schedule)
	}
	return schedules, rows.Err()
}

// UpdateSchedule replaces a schedule's definition.
func (s *ScheduleService) UpdateSchedule(scheduleID string, schedule models.Schedule) (models.Schedule, error) {
	cronSchedule, err := s.validate(schedule)
	if err != nil {
		return models.Schedule{}, err
	}

	schedule.PrepareForDB()
	nextRun := cronSchedule.Next(time.Now())

	_, err = s.db.Exec(`
		UPDATE schedules SET name = ?, cron_expression = ?, task_type = ?, payload_json = ?, is_active = ?, next_run_at = ?
		WHERE id = ?`,
		schedule.Name, schedule.CronExpression, schedule.TaskType, schedule.PayloadJSON, schedule.IsActive, nextRun, scheduleID)
	if err != nil {
		return models.Schedule{}, err
	}
	return s.GetScheduleByID(scheduleID)
}

// DeleteSchedule removes a schedule.
func (s *ScheduleService) DeleteSchedule(scheduleID string) error {
	_, err := s.db.Exec("DELETE FROM schedules WHERE id = ?", scheduleID)
	return err
}

// UpdateScheduleRunTimes records a completed run and the next due time.
func (s *ScheduleService) UpdateScheduleRunTimes(scheduleID string, lastRun time.Time, nextRun time.Time) error {
	_, err := s.db.Exec("UPDATE schedules SET last_run_at = ?, next_run_at = ? WHERE id = ?", lastRun, nextRun, scheduleID)
	return err
}
