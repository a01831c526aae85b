package server

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"v2v/app/config"
	"v2v/app/model/chat"
	"v2v/app/service/assistant"
	"v2v/app/service/history"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/samber/do"
)

const shutdownTimeout = 5 * time.Second

type History interface {
	CreateSession() (history.Session, error)
	ListSessions() []history.Session
	GetSession(id int64) (history.SessionWithMessages, error)
	AppendExchange(sessionID int64, userText, assistantText string) error
	Transcript(sessionID int64) []chat.Message
}

type Replier interface {
	Configured() bool
	Reply(ctx context.Context, history []chat.Message, text string) (string, error)
}

// Server is the HTTP chat backend the voice client talks to.
type Server struct {
	app     *fiber.App
	history History
	replier Replier
	listen  string
}

func New(di *do.Injector) (*Server, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewServer(
		do.MustInvoke[*history.Service](di),
		do.MustInvoke[*assistant.Service](di),
		cfg.Server.Listen,
	), nil
}

func NewServer(hist History, replier Replier, listen string) *Server {
	s := &Server{
		history: hist,
		replier: replier,
		listen:  listen,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "v2v",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	s.app.Use(recover.New())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "http://localhost, http://localhost:3000, https://localhost",
	}))
	s.app.Use(requestLogger)

	s.app.Get("/api", s.health)

	api := s.app.Group("/api")
	api.Get("/session", s.listSessions)
	api.Post("/session", s.createSession)
	api.Get("/session/:id<int>", s.getSession)
	api.Post("/chat", s.postChat)
	api.Get("/gpt", s.getGPT)

	return s
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "address", s.listen)
		errCh <- s.app.Listen(s.listen)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Server shutting down")
		return s.app.ShutdownWithTimeout(shutdownTimeout)
	}
}

func requestLogger(c *fiber.Ctx) error {
	started := time.Now()

	requestID := c.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set("X-Request-ID", requestID)

	err := c.Next()

	slog.Debug("Request handled",
		"method", c.Method(),
		"path", c.Path(),
		"request_id", requestID,
		"duration", time.Since(started),
		"error", err,
	)

	return err
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	detail := "Internal server error"

	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		code = fiberErr.Code
		detail = fiberErr.Message
	case errors.Is(err, history.ErrSessionNotFound):
		code = fiber.StatusNotFound
		detail = "Session not found"
	case errors.Is(err, assistant.ErrNotConfigured):
		code = fiber.StatusServiceUnavailable
		detail = assistant.ErrNotConfigured.Error()
	default:
		detail = err.Error()
	}

	if code >= fiber.StatusInternalServerError {
		slog.Error("Request failed",
			"method", c.Method(),
			"path", c.Path(),
			"error", err,
		)
	}

	return c.Status(code).JSON(fiber.Map{"detail": detail})
}
