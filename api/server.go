// Package api exposes the incident workflow over HTTP. Routes live behind a
// session cookie; role checks go through the rbac policy.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fleetdesk/api/handlers"
	"fleetdesk/config"
	"fleetdesk/core/assessment"
	"fleetdesk/core/auth"
	"fleetdesk/core/files"
	"fleetdesk/core/notify"
	"fleetdesk/core/rbac"
	"fleetdesk/core/review"
	"fleetdesk/core/store"
	"fleetdesk/core/utils"
)

type ServerDeps struct {
	Users         store.UsersStore
	Sessions      store.SessionStore
	Incidents     store.IncidentsStore
	Comments      store.CommentsStore
	Audits        store.AuditStore
	SessionMgr    *auth.SessionManager
	Policy        *rbac.Policy
	AssessmentSvc *assessment.Service
	ReviewSvc     *review.Service
	FilesSvc      *files.Service
	Dispatcher    *notify.Dispatcher
}

type Server struct {
	cfg    *config.AppConfig
	deps   ServerDeps
	logger *utils.Logger

	users      store.UsersStore
	sessions   store.SessionStore
	incidents  store.IncidentsStore
	audits     store.AuditStore
	sessionMgr *auth.SessionManager
	policy     *rbac.Policy
	activity   *sessionActivity

	loginLimiter *requestLimiter
}

func NewServer(cfg *config.AppConfig, deps ServerDeps, logger *utils.Logger) *Server {
	return &Server{
		cfg:          cfg,
		deps:         deps,
		logger:       logger,
		users:        deps.Users,
		sessions:     deps.Sessions,
		incidents:    deps.Incidents,
		audits:       deps.Audits,
		sessionMgr:   deps.SessionMgr,
		policy:       deps.Policy,
		activity:     newSessionActivity(),
		loginLimiter: newLimiter(5, time.Minute),
	}
}

func (s *Server) Router() http.Handler {
	authH := handlers.NewAuthHandler(s.cfg, s.users, s.sessionMgr, s.audits, s.logger)
	incidentsH := handlers.NewIncidentsHandler(s.cfg, s.incidents, s.deps.Comments, s.users, s.deps.AssessmentSvc, s.deps.ReviewSvc, s.audits, s.logger)
	draftsH := handlers.NewDraftsHandler(s.incidents, s.users, s.deps.ReviewSvc, s.deps.Dispatcher, s.audits, s.logger)
	filesH := handlers.NewFilesHandler(s.cfg, s.incidents, s.deps.FilesSvc, s.logger)
	logsH := handlers.NewLogsHandler(s.audits)

	r := chi.NewRouter()
	r.Use(s.recoverMiddleware, s.jsonMiddleware, s.loggingMiddleware)

	r.Post("/api/login", s.rateLimitMiddleware(authH.Login))
	r.Route("/api", func(r chi.Router) {
		r.Post("/logout", s.withSession(authH.Logout))
		r.Get("/me", s.withSession(authH.Me))
		r.Get("/logs", s.withSession(s.requirePermission("logs", "read")(logsH.List)))

		r.Route("/incidents", func(r chi.Router) {
			r.Get("/", s.withSession(s.requirePermission("incidents", "read")(incidentsH.List)))
			r.Post("/", s.withSession(s.requirePermission("incidents", "create")(incidentsH.Create)))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.withSession(s.requirePermission("incidents", "read")(incidentsH.Get)))
				r.Patch("/status", s.withSession(s.requirePermission("incidents", "force")(incidentsH.ForceStatus)))
				r.Post("/close", s.withSession(s.requirePermission("incidents", "close")(incidentsH.Close)))
				r.Post("/assess", s.withSession(s.requirePermission("incidents", "assess")(incidentsH.Assess)))
				r.Post("/review", s.withSession(s.requirePermission("incidents", "review")(incidentsH.Review)))
				r.Post("/override", s.withSession(s.requirePermission("incidents", "override")(incidentsH.Override)))
				r.Get("/timeline", s.withSession(s.requirePermission("incidents", "read")(incidentsH.Timeline)))
				r.Get("/guidance", s.withSession(s.requirePermission("incidents", "read")(draftsH.Guidance)))

				r.Get("/comments", s.withSession(s.requirePermission("incidents", "read")(incidentsH.ListComments)))
				r.Post("/comments", s.withSession(s.requirePermission("comments", "create")(incidentsH.AddComment)))

				r.Get("/draft", s.withSession(s.requirePermission("drafts", "read")(draftsH.Get)))
				r.Put("/draft", s.withSession(s.requirePermission("drafts", "edit")(draftsH.SaveEdit)))
				r.Post("/draft/regenerate", s.withSession(s.requirePermission("drafts", "edit")(draftsH.Regenerate)))
				r.Post("/draft/reviewed", s.withSession(s.requirePermission("drafts", "edit")(draftsH.MarkReviewed)))
				r.Post("/send", s.withSession(s.requirePermission("drafts", "send")(draftsH.Send)))

				r.Get("/files", s.withSession(s.requirePermission("files", "read")(filesH.List)))
				r.Post("/files", s.withSession(s.requirePermission("files", "upload")(filesH.Upload)))
				r.Get("/files/{file_id}/download", s.withSession(s.requirePermission("files", "read")(filesH.Download)))
			})
		})
	})
	return r
}
