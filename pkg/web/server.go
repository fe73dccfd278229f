// Package web serves the mare pages over HTTP.
package web

import (
	"embed"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/nitkach/mares/pkg/errmodel"
	"github.com/nitkach/mares/pkg/imagelookup"
	"github.com/nitkach/mares/pkg/store"
)

//go:embed templates/*.html
var templatesFS embed.FS

const requestIDHeader = "X-Request-ID"

// Server holds the collaborators the handlers need.
type Server struct {
	store  store.MareStore
	images imagelookup.Finder
	log    zerolog.Logger
	engine *gin.Engine
}

// New builds the router. images may be nil, in which case the image page
// reports the lookup as unavailable.
func New(st store.MareStore, images imagelookup.Finder, log zerolog.Logger) *Server {
	s := &Server{store: st, images: images, log: log}
	s.engine = s.routes()
	return s
}

// Handler returns the router wrapped with server-side tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.engine, "mares")
}

var funcs = template.FuncMap{
	"lower": func(b store.Breed) string { return strings.ToLower(b.String()) },
	// token renders the concurrency token exactly as the edit form posts it back.
	"token": func(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) },
	"stamp": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04:05 MST") },
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.accessLog())
	r.SetHTMLTemplate(template.Must(template.New("").Funcs(funcs).ParseFS(templatesFS, "templates/*.html")))

	r.GET("/healthz", s.health)
	r.GET("/", s.index)

	mares := r.Group("/mares")
	{
		mares.GET("", s.listPage)
		mares.POST("", s.create)
		mares.GET("/all", s.listAll)
		mares.GET("/:id", s.view)
		mares.POST("/:id/edit", s.edit)
		mares.POST("/:id/delete", s.remove)
		mares.GET("/:id/image", s.image)
	}
	r.NoRoute(func(c *gin.Context) {
		s.fail(c, errmodel.NotFound("no_route", "There is nothing at "+c.Request.URL.Path+".", nil))
	})
	return r
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		if route := c.FullPath(); route != "" {
			trace.SpanFromContext(c.Request.Context()).SetName(c.Request.Method + " " + route)
		}
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		ev := s.log.Info()
		if status >= http.StatusInternalServerError {
			ev = s.log.Error()
		}
		ev.Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// fail renders the error page with the status the error category maps to.
func (s *Server) fail(c *gin.Context, err error) {
	ce := errmodel.From(err)
	status := errmodel.HTTPStatus(ce)
	msg := ce.Message
	if ce.Category == errmodel.CategorySystem {
		s.log.Error().Err(err).Str("request_id", c.GetString("request_id")).Msg("internal error")
		msg = "Something went wrong on our side."
	}
	c.HTML(status, "error.html", gin.H{
		"Title":      http.StatusText(status),
		"Status":     status,
		"StatusText": http.StatusText(status),
		"Message":    msg,
		"TraceID":    errmodel.TraceID(c.Request.Context()),
	})
}
