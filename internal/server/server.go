package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spigell/doc-reviewer/internal/extract"
	"github.com/spigell/doc-reviewer/internal/review"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	DefaultAddr           = ":8080"
	DefaultMaxUploadBytes = 20 << 20
)

// Reviewer is the pipeline surface exposed over HTTP.
type Reviewer interface {
	Summarize(ctx context.Context, text, filename string) (*review.SummaryResult, error)
	Evaluate(ctx context.Context, text, filename string) (*review.EvaluationResult, error)
	Review(ctx context.Context, text, filename string) (*review.ReviewResult, error)
}

type Config struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed-origins"`
	MaxUploadBytes int64    `mapstructure:"max-upload-bytes"`
}

type Server struct {
	cfg      Config
	reviewer Reviewer
	router   *gin.Engine
	logger   *zap.Logger
	version  string
}

type documentRequest struct {
	Text     string `json:"text" binding:"required"`
	Filename string `json:"filename"`
}

func New(cfg Config, reviewer Reviewer, version string, logger *zap.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:      cfg,
		reviewer: reviewer,
		logger:   logger,
		version:  version,
	}
	s.router = s.routes()

	return s
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(Logger(s.logger))

	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", requestIDHeader},
		ExposeHeaders: []string{"Content-Length", requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(s.cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = s.cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", s.health)

	api := router.Group("/api")
	api.GET("/criteria", s.criteria)
	api.POST("/summarize", s.summarize)
	api.POST("/evaluate", s.evaluate)
	api.POST("/review", s.review)

	return router
}

// Handler returns the http.Handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	s.logger.Info("server exited")
	return nil
}

func (s *Server) health(c *gin.Context) {
	ok(c, gin.H{"status": "ok", "version": s.version})
}

func (s *Server) criteria(c *gin.Context) {
	ok(c, gin.H{
		"criteria":  review.Criteria,
		"max_score": review.MaxScore,
		"max_total": review.MaxTotal,
	})
}

func (s *Server) summarize(c *gin.Context) {
	text, filename, okDoc := s.document(c)
	if !okDoc {
		return
	}

	result, err := s.reviewer.Summarize(c.Request.Context(), text, filename)
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, result)
}

func (s *Server) evaluate(c *gin.Context) {
	text, filename, okDoc := s.document(c)
	if !okDoc {
		return
	}

	result, err := s.reviewer.Evaluate(c.Request.Context(), text, filename)
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, result)
}

func (s *Server) review(c *gin.Context) {
	text, filename, okDoc := s.document(c)
	if !okDoc {
		return
	}

	result, err := s.reviewer.Review(c.Request.Context(), text, filename)
	if err != nil {
		var partial any
		if result != nil && (result.Summary != nil || result.Evaluation != nil) {
			partial = result
		}
		fail(c, err, partial)
		return
	}
	ok(c, result)
}

// document reads the submitted document from a multipart upload or a JSON body.
// It writes the error response itself and reports false on failure.
func (s *Server) document(c *gin.Context) (string, string, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		header, err := c.FormFile("file")
		if err != nil {
			badRequest(c, "multipart request must contain a file field")
			return "", "", false
		}

		f, err := header.Open()
		if err != nil {
			badRequest(c, "uploaded file could not be opened")
			return "", "", false
		}
		defer f.Close()

		filename := c.PostForm("filename")
		if filename == "" {
			filename = header.Filename
		}

		text, err := extract.Reader(f, header.Filename)
		if err != nil {
			badRequest(c, "uploaded file could not be read")
			return "", "", false
		}
		return text, filename, true
	}

	var req documentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "request body must be json with a text field")
		return "", "", false
	}

	return req.Text, req.Filename, true
}
