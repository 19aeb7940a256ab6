package app

import (
	"database/sql"
	"net/http"
	"time"

	"schoolhub/internal/app/observability"
	"schoolhub/internal/attendance"
	"schoolhub/internal/auth"
	"schoolhub/internal/club"
	"schoolhub/internal/library"
	"schoolhub/internal/masterdata"
	"schoolhub/internal/news"
	"schoolhub/internal/question"
	"schoolhub/internal/quiz"
	"schoolhub/internal/report"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

func NewRouter(cfg Config, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	collector := observability.NewCollector(db)
	r.Use(collector.Middleware)

	var snapshots *quiz.SnapshotCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		snapshots = quiz.NewSnapshotCache(rdb, time.Duration(cfg.QuizCacheTTLMins)*time.Minute)
	}

	authSvc := auth.NewService(db, auth.ServiceConfig{
		BootstrapToken: cfg.BootstrapToken,
	})
	authHandler := auth.NewHandler(authSvc)

	quizSvc := quiz.NewService(db, snapshots, cfg.QuestionSeconds, cfg.AnswerGraceSeconds)
	quizHandler := quiz.NewHandler(quizSvc)

	questionSvc := question.NewService(db, nil)
	if snapshots != nil {
		questionSvc = question.NewService(db, snapshots)
	}
	questionHandler := question.NewHandler(questionSvc)

	masterdataHandler := masterdata.NewHandler(masterdata.NewService(db))
	libraryHandler := library.NewHandler(library.NewService(db, cfg.LibraryLoanDays))
	newsHandler := news.NewHandler(news.NewService(db))
	clubHandler := club.NewHandler(club.NewService(db))
	attendanceHandler := attendance.NewHandler(attendance.NewService(db))
	reportHandler := report.NewHandler(report.NewService(db))

	loginLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))

		api.Group(func(public chi.Router) {
			public.Use(RateLimitMiddleware(loginLimiter))
			public.Post("/bootstrap/init", authHandler.Bootstrap)
			public.Post("/auth/login", authHandler.Login)
		})

		// Published announcements are readable without a session.
		api.Get("/news", newsHandler.List)
		api.Get("/news/{articleID}", newsHandler.Get)

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Get("/auth/me", authHandler.Me)
			secure.Post("/auth/logout", authHandler.Logout)

			secure.Post("/attempts", quizHandler.Start)
			secure.Get("/attempts/{id}", quizHandler.GetAttempt)
			secure.Get("/attempts/{id}/question", quizHandler.CurrentQuestion)
			secure.Post("/attempts/{id}/questions/{questionID}/answer", quizHandler.SubmitAnswer)
			secure.Post("/attempts/{id}/complete", quizHandler.Complete)
			secure.Get("/attempts/{id}/result", quizHandler.Result)

			secure.Get("/students/{studentID}/transcript", reportHandler.StudentTranscript)
			secure.Get("/students/{studentID}/attendance/summary", attendanceHandler.StudentSummary)

			secure.Get("/clubs", clubHandler.List)
			secure.Get("/clubs/{clubID}/members", clubHandler.Members)
			secure.Post("/clubs/{clubID}/join", clubHandler.Join)
			secure.Post("/clubs/{clubID}/leave", clubHandler.Leave)

			secure.Get("/library/items", libraryHandler.SearchItems)
			secure.Get("/library/loans", libraryHandler.ListLoans)
			secure.Post("/library/items/{itemID}/borrow", libraryHandler.Borrow)

			secure.Group(func(staff chi.Router) {
				staff.Use(authHandler.RequireRoles("admin", "teacher"))

				staff.Post("/quizzes", questionHandler.CreateQuiz)
				staff.Get("/quizzes", questionHandler.ListQuizzes)
				staff.Get("/quizzes/{quizID}", questionHandler.GetQuiz)
				staff.Put("/quizzes/{quizID}", questionHandler.UpdateQuiz)
				staff.Delete("/quizzes/{quizID}", questionHandler.DeactivateQuiz)
				staff.Post("/quizzes/{quizID}/questions", questionHandler.AddQuestion)
				staff.Put("/quizzes/{quizID}/questions/order", questionHandler.ReorderQuestions)
				staff.Put("/quizzes/{quizID}/questions/{questionID}", questionHandler.UpdateQuestion)
				staff.Delete("/quizzes/{quizID}/questions/{questionID}", questionHandler.DeleteQuestion)

				staff.Get("/quizzes/{quizID}/results", reportHandler.QuizResults)
				staff.Get("/quizzes/{quizID}/results/export", reportHandler.ExportQuizResults)

				staff.Post("/news", newsHandler.Create)
				staff.Put("/news/{articleID}", newsHandler.Update)
				staff.Delete("/news/{articleID}", newsHandler.Delete)

				staff.Post("/clubs", clubHandler.Create)
				staff.Put("/clubs/{clubID}", clubHandler.Update)
				staff.Delete("/clubs/{clubID}", clubHandler.Deactivate)

				staff.Post("/classes/{classID}/attendance", attendanceHandler.Record)
				staff.Get("/classes/{classID}/attendance", attendanceHandler.Sheet)
			})

			secure.Group(func(librarian chi.Router) {
				librarian.Use(authHandler.RequireRoles("admin", "librarian"))
				librarian.Post("/library/items", libraryHandler.CreateItem)
				librarian.Put("/library/items/{itemID}", libraryHandler.UpdateItem)
				librarian.Delete("/library/items/{itemID}", libraryHandler.DeleteItem)
				librarian.Post("/library/loans/{loanID}/return", libraryHandler.Return)
			})

			secure.Group(func(admin chi.Router) {
				admin.Use(authHandler.RequireRoles("admin"))
				admin.Get("/admin/users", authHandler.ListUsers)
				admin.Post("/admin/users", authHandler.CreateUser)
				admin.Put("/admin/users/{id}", authHandler.UpdateUser)
				admin.Delete("/admin/users/{id}", authHandler.DeactivateUser)
				admin.Get("/admin/users/export", authHandler.ExportUsers)
				admin.Post("/admin/users/import", authHandler.ImportUsers)

				admin.Post("/subjects", masterdataHandler.CreateSubject)
				admin.Get("/subjects", masterdataHandler.ListSubjects)
				admin.Put("/subjects/{subjectID}", masterdataHandler.UpdateSubject)
				admin.Delete("/subjects/{subjectID}", masterdataHandler.DeleteSubject)

				admin.Post("/classes", masterdataHandler.CreateClass)
				admin.Get("/classes", masterdataHandler.ListClasses)
				admin.Put("/classes/{classID}", masterdataHandler.UpdateClass)
				admin.Delete("/classes/{classID}", masterdataHandler.DeleteClass)
			})
		})
	})

	return r
}
