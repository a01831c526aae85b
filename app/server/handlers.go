package server

import (
	"context"
	"log/slog"
	"strings"
	"v2v/app/service/assistant"
	"v2v/app/util/mylog"

	"github.com/gofiber/fiber/v2"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID *int64 `json:"session_id"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID int64  `json:"session_id"`
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) listSessions(c *fiber.Ctx) error {
	return c.JSON(s.history.ListSessions())
}

func (s *Server) createSession(c *fiber.Ctx) error {
	sess, err := s.history.CreateSession()
	if err != nil {
		return err
	}

	return c.JSON(sess)
}

func (s *Server) getSession(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "invalid session id")
	}

	sess, err := s.history.GetSession(int64(id))
	if err != nil {
		return err
	}

	return c.JSON(sess)
}

func (s *Server) postChat(c *fiber.Ctx) error {
	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "invalid request body")
	}

	resp, err := s.chat(c.UserContext(), strings.TrimSpace(req.Message), req.SessionID)
	if err != nil {
		return err
	}

	return c.JSON(resp)
}

func (s *Server) getGPT(c *fiber.Ctx) error {
	message := strings.TrimSpace(c.Query("message"))
	if message == "" {
		return fiber.NewError(fiber.StatusBadRequest, "message query param required")
	}

	resp, err := s.chat(c.UserContext(), message, nil)
	if err != nil {
		return err
	}

	return c.JSON(resp)
}

// chat answers message within sessionID, creating a session when sessionID is nil. Both
// turns are stored only once the reply is known.
func (s *Server) chat(ctx context.Context, message string, sessionID *int64) (chatResponse, error) {
	if message == "" {
		return chatResponse{}, fiber.NewError(fiber.StatusBadRequest, "message must not be empty")
	}

	var id int64
	if sessionID != nil {
		sess, err := s.history.GetSession(*sessionID)
		if err != nil {
			return chatResponse{}, err
		}
		id = sess.ID
	}

	if !s.replier.Configured() {
		return chatResponse{}, assistant.ErrNotConfigured
	}

	if sessionID == nil {
		sess, err := s.history.CreateSession()
		if err != nil {
			return chatResponse{}, err
		}
		id = sess.ID
	}

	reply, err := s.replier.Reply(ctx, s.history.Transcript(id), message)
	if err != nil {
		return chatResponse{}, err
	}

	if err = s.history.AppendExchange(id, message, reply); err != nil {
		return chatResponse{}, err
	}

	slog.Info("Replied to message",
		"session_id", id,
		"message", message,
		"reply", reply,
		mylog.TelegramKey, true,
	)

	return chatResponse{Response: reply, SessionID: id}, nil
}
