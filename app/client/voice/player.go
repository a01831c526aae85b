package voice

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
	"v2v/app/config"
)

// Orphaned children of the TTS command may keep stderr open after a kill.
const waitDelay = time.Second

// Player speaks text through an external TTS command that reads the text from stdin,
// e.g. `espeak-ng -v ru --stdin` or `RHVoice-test -p anna`.
type Player struct {
	command string
	args    []string
}

func NewPlayer(cfg config.Output) *Player {
	return &Player{
		command: cfg.Command,
		args:    cfg.Args,
	}
}

// Available reports whether the TTS command can be found.
func (p *Player) Available() bool {
	_, err := exec.LookPath(p.command)
	return err == nil
}

// Speak blocks until the command exits. Cancelling ctx kills the process, which stops
// the audio immediately.
func (p *Player) Speak(ctx context.Context, text string) error {
	cmd := exec.CommandContext(ctx, p.command, p.args...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stderr = stderrLog{command: p.command}
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s failed: %w", p.command, err)
	}

	return nil
}

type stderrLog struct {
	command string
}

func (l stderrLog) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimSpace(p), []byte("\n")) {
		if len(line) > 0 {
			slog.Debug(l.command, "stderr", string(line))
		}
	}

	return len(p), nil
}
