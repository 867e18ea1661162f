package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Handlers groups everything the router mounts. Bridge and Events are
// optional.
type Handlers struct {
	Versions  *VersionHandler
	Lifecycle *LifecycleHandler
	Folders   *FolderHandler
	Admin     *AdminHandler
	Events    *EventsHandler
	Bridge    *BridgeHandler
}

func NewRouter(h Handlers, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", ActorHeader},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/publish/{name}", h.Versions.Publish)

		r.Get("/families", h.Versions.ListFamilies)
		r.Route("/families/{uuid}", func(r chi.Router) {
			r.Get("/", h.Versions.GetFamily)
			r.Delete("/", h.Lifecycle.Purge)
			r.Put("/description", h.Versions.UpdateDescription)
			r.Get("/versions", h.Versions.ListVersions)
			r.Get("/latest", h.Versions.GetLatest)
			r.Post("/retire", h.Lifecycle.Retire)
			r.Post("/restore", h.Lifecycle.Restore)
			r.Post("/sync", h.Lifecycle.Sync)
			r.Get("/tags", h.Folders.ListTags)
			r.Post("/tags/{name}", h.Folders.AddTag)
			r.Delete("/tags/{name}", h.Folders.RemoveTag)
		})

		r.Route("/versions/{id}", func(r chi.Router) {
			r.Get("/", h.Versions.GetVersion)
			r.Get("/thumbnail", h.Versions.Thumbnail)
			r.Post("/archive", h.Versions.Archive)
			r.Post("/promote", h.Versions.Promote)
			r.Post("/restore-as-current", h.Versions.RestoreAsCurrent)
			r.Put("/favorite", h.Versions.SetFavorite)
			r.Put("/status", h.Versions.SetStatus)
		})

		r.Get("/folders", h.Folders.ListFolders)
		r.Post("/folders", h.Folders.CreateFolder)
		r.Route("/folders/{id}", func(r chi.Router) {
			r.Get("/", h.Folders.GetFolderContent)
			r.Delete("/", h.Folders.DeleteFolder)
			r.Put("/rename", h.Folders.RenameFolder)
			r.Put("/move", h.Folders.MoveFolder)
			r.Post("/families/{uuid}", h.Folders.AddFamily)
			r.Delete("/families/{uuid}", h.Folders.RemoveFamily)
		})
		r.Get("/tags", h.Folders.AllTags)

		r.Get("/audit", h.Lifecycle.History)
		r.Get("/usage", h.Admin.Usage)
		r.Get("/settings/mode", h.Admin.GetMode)
		r.Put("/settings/mode", h.Admin.SetMode)
		r.Post("/reconcile", h.Lifecycle.Reconcile)
		r.Post("/mirror", h.Lifecycle.Mirror)

		if h.Events != nil {
			r.Get("/events", h.Events.Stream)
		}
		if h.Bridge != nil {
			r.Post("/host/commands", h.Bridge.Send)
			r.Get("/host/pending", h.Bridge.Pending)
		}
	})

	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
