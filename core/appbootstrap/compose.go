// Package appbootstrap wires stores, services and the HTTP server together.
package appbootstrap

import (
	"database/sql"

	"fleetdesk/api"
	"fleetdesk/config"
	"fleetdesk/core/assessment"
	"fleetdesk/core/auth"
	"fleetdesk/core/files"
	"fleetdesk/core/notify"
	"fleetdesk/core/rbac"
	"fleetdesk/core/retention"
	"fleetdesk/core/review"
	"fleetdesk/core/store"
	"fleetdesk/core/utils"
)

type runtimeComposition struct {
	serverDeps api.ServerDeps
	sweeper    *retention.Sweeper
}

func composeRuntime(cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) (*runtimeComposition, error) {
	users := store.NewUsersStore(db)
	sessions := store.NewSessionsStore(db)
	audits := store.NewAuditStore(db)
	incidents := store.NewIncidentsStore(db)
	comments := store.NewCommentsStore(db)

	policy, err := rbac.New()
	if err != nil {
		return nil, err
	}
	sessionMgr := auth.NewSessionManager(sessions, cfg, logger)
	assessSvc := assessment.NewService(cfg.Assessor, incidents, users, nil, logger)
	reviewSvc := review.NewService(incidents, users, logger)
	filesSvc, err := files.NewService(cfg.Incidents, incidents, logger)
	if err != nil {
		return nil, err
	}
	dispatcher := notify.NewDispatcher(cfg.Mail, incidents, users, nil, logger)
	sweeper := retention.NewSweeper(cfg.Retention, sessions, audits, logger)

	return &runtimeComposition{
		serverDeps: api.ServerDeps{
			Users:         users,
			Sessions:      sessions,
			Incidents:     incidents,
			Comments:      comments,
			Audits:        audits,
			SessionMgr:    sessionMgr,
			Policy:        policy,
			AssessmentSvc: assessSvc,
			ReviewSvc:     reviewSvc,
			FilesSvc:      filesSvc,
			Dispatcher:    dispatcher,
		},
		sweeper: sweeper,
	}, nil
}
