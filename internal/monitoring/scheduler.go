package monitoring

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/seralvz/stackvault/internal/models"
	"github.com/seralvz/stackvault/internal/services"
)

// Scheduler checks for and executes scheduled maintenance tasks.
type Scheduler struct {
	scheduleSvc services.ScheduleServiceProvider
	backupSvc   services.BackupServiceProvider
	eventSvc    services.EventServiceProvider
	ticker      *time.Ticker
	done        chan bool
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(scheduleSvc services.ScheduleServiceProvider, backupSvc services.BackupServiceProvider, eventSvc services.EventServiceProvider) *Scheduler {
	return &Scheduler{
		scheduleSvc: scheduleSvc,
		backupSvc:   backupSvc,
		eventSvc:    eventSvc,
		done:        make(chan bool),
	}
}

// Run starts the scheduler's ticking loop.
func (s *Scheduler) Run() {
	log.Info().Msg("Starting background scheduler...")
	s.ticker = time.NewTicker(1 * time.Minute)
	defer s.ticker.Stop()

	// Run once immediately on start
	s.checkAndRunSchedules()

	for {
		select {
		case <-s.done:
			log.Info().Msg("Stopping background scheduler.")
			return
		case <-s.ticker.C:
			s.checkAndRunSchedules()
		}
	}
}

// Stop halts the scheduler.
func (s *Scheduler) Stop() {
	s.done <- true
}

// checkAndRunSchedules queries for due tasks and executes them.
func (s *Scheduler) checkAndRunSchedules() {
	schedules, err := s.scheduleSvc.GetAllActiveSchedules()
	if err != nil {
		log.Error().Err(err).Msg("Scheduler: Failed to retrieve active schedules")
		return
	}

	for _, schedule := range schedules {
		cronSchedule, err := cron.ParseStandard(schedule.CronExpression)
		if err != nil {
			log.Error().Err(err).Str("schedule_id", schedule.ID).Msg("Scheduler: Invalid cron expression")
			continue
		}

		now := time.Now()
		// If NextRunAt is in the past, it's time to run
		if schedule.NextRunAt != nil && now.After(*schedule.NextRunAt) {
			go s.executeTask(schedule)

			// Update the times for the next run
			nextRun := cronSchedule.Next(now)
			s.scheduleSvc.UpdateScheduleRunTimes(schedule.ID, now, nextRun)
		}
	}
}

// executeTask performs the action defined by the schedule. The backup service
// serializes operations internally, so two due tasks never run a backup and a
// restore at the same time.
func (s *Scheduler) executeTask(schedule models.Schedule) {
	log.Info().Str("schedule", schedule.Name).Str("task", schedule.TaskType).Msg("Scheduler: Executing task")
	var err error

	switch schedule.TaskType {
	case services.TaskBackup:
		var payload struct {
			Label string `json:"label"`
		}
		if schedule.Payload != nil {
			if json.Unmarshal(schedule.Payload, &payload) != nil {
				payload.Label = "scheduled"
			}
		}
		_, err = s.backupSvc.CreateBackup(payload.Label)
	case services.TaskRetention:
		_, err = s.backupSvc.EnforceRetention()
	default:
		err = fmt.Errorf("unknown task type '%s' for schedule %s", schedule.TaskType, schedule.ID)
	}

	if err != nil {
		log.Error().Err(err).Str("schedule_id", schedule.ID).Msg("Scheduler: Error executing task")
		msg := fmt.Sprintf("Scheduled task '%s' failed to execute: %v", schedule.Name, err)
		s.eventSvc.CreateEvent("schedule.execute.fail", "error", msg, nil)
	} else {
		msg := fmt.Sprintf("Scheduled task '%s' executed successfully.", schedule.Name)
		s.eventSvc.CreateEvent("schedule.execute.success", "info", msg, nil)
	}
}
