package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"v2v/app/model/chat"
	"v2v/app/service/orchestrator"

	"github.com/samber/do"
)

const helpText = `Команды:
  <Enter>     начать или остановить запись, прервать ответ
  n           новый чат
  s <id>      открыть чат
  l           список чатов
  r           обновить список чатов
  h           помощь
  q           выход`

// Orchestrator is the part of the conversation service driven from the terminal.
type Orchestrator interface {
	StartListening(ctx context.Context)
	StopListening()
	CreateNewSession(ctx context.Context)
	LoadSession(ctx context.Context, id int64)
	RefreshSessions(ctx context.Context)
	Snapshot() orchestrator.Snapshot
	Changes() <-chan struct{}
	Notices() <-chan orchestrator.Notice
}

// Service is a line-oriented front end: it prints the active transcript as it grows and
// maps typed commands onto orchestrator triggers.
type Service struct {
	orch Orchestrator
	in   io.Reader
	out  io.Writer

	phase     orchestrator.Phase
	speaking  bool
	activeID  int64
	hasActive bool
	printed   int
}

func New(di *do.Injector) (*Service, error) {
	return NewService(do.MustInvoke[*orchestrator.Service](di), os.Stdin, os.Stdout), nil
}

func NewService(orch Orchestrator, in io.Reader, out io.Writer) *Service {
	return &Service{
		orch: orch,
		in:   in,
		out:  out,
	}
}

// Run reads commands until ctx is done, the input ends or the user quits.
func (s *Service) Run(ctx context.Context) {
	lines := make(chan string)
	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			slog.Warn("Failed to read console input", "error", err)
		}
	}()

	s.println(helpText)
	s.render(s.orch.Snapshot())

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !s.handle(ctx, strings.TrimSpace(line)) {
				return
			}
		case <-s.orch.Changes():
			s.render(s.orch.Snapshot())
		case notice := <-s.orch.Notices():
			if notice.Blocking {
				s.printf("!! %s\n", notice.Text)
			} else {
				s.printf("! %s\n", notice.Text)
			}
		}
	}
}

func (s *Service) handle(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
		if s.orch.Snapshot().Phase == orchestrator.PhaseListening {
			s.orch.StopListening()
		} else {
			s.orch.StartListening(ctx)
		}
	case "n":
		s.orch.CreateNewSession(ctx)
	case "s":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			s.printf("Неверный номер чата: %q\n", arg)
			return true
		}
		s.orch.LoadSession(ctx, id)
	case "l":
		s.printSessions(s.orch.Snapshot())
	case "r":
		s.orch.RefreshSessions(ctx)
	case "h", "?":
		s.println(helpText)
	case "q":
		return false
	default:
		s.printf("Неизвестная команда %q, h для помощи\n", cmd)
	}

	return true
}

// render prints what changed since the previous snapshot. Switching to another session
// reprints its transcript from the start.
func (s *Service) render(snap orchestrator.Snapshot) {
	switched := s.hasActive && (!snap.HasActive || snap.ActiveID != s.activeID)
	if switched || len(snap.Transcript) < s.printed {
		s.printed = 0
		if snap.HasActive {
			s.printf("--- чат #%d ---\n", snap.ActiveID)
		} else {
			s.println("--- новый чат ---")
		}
	}
	s.activeID, s.hasActive = snap.ActiveID, snap.HasActive

	for _, msg := range snap.Transcript[s.printed:] {
		s.printf("%s: %s\n", speaker(msg.Role), msg.Content)
	}
	s.printed = len(snap.Transcript)

	if snap.Phase != s.phase {
		s.phase = snap.Phase
		switch snap.Phase {
		case orchestrator.PhaseListening:
			s.println("* слушаю...")
		case orchestrator.PhaseAwaitingReply:
			s.println("* жду ответа...")
		}
	}

	if snap.Speaking && !s.speaking {
		s.println("* говорю...")
	}
	s.speaking = snap.Speaking
}

func (s *Service) printSessions(snap orchestrator.Snapshot) {
	if len(snap.Sessions) == 0 {
		s.println("Чатов пока нет")
		return
	}

	for _, sess := range snap.Sessions {
		marker := " "
		if snap.HasActive && sess.ID == snap.ActiveID {
			marker = "*"
		}
		s.printf("%s #%d  %s\n", marker, sess.ID, sess.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
}

func speaker(role chat.Role) string {
	if role == chat.RoleUser {
		return "Вы"
	}
	return "Ассистент"
}

func (s *Service) println(text string) {
	s.printf("%s\n", text)
}

func (s *Service) printf(format string, args ...any) {
	if _, err := fmt.Fprintf(s.out, format, args...); err != nil {
		slog.Debug("Failed to write console output", "error", err)
	}
}
