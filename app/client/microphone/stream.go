package microphone

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
	"v2v/app/config"
)

const (
	SampleRate = 16000
	Channels   = 1
)

// Stream reads the microphone through an ffmpeg subprocess and exposes raw
// 16 kHz mono LINEAR16 PCM on stdout.
type Stream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser
	mu     sync.Mutex
}

func NewStream(ctx context.Context, cfg config.Capture) (*Stream, error) {
	args := []string{
		"-loglevel", "warning",
		"-nostdin",
		"-f", cfg.InputFormat,
		"-i", cfg.Device,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ac", fmt.Sprint(Channels),
		"-ar", fmt.Sprint(SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, cfg.FFmpegPath, args...)
	cmd.WaitDelay = time.Second
	slog.Debug("Running ffmpeg", "cmd", cfg.FFmpegPath+" "+strings.Join(args, " "))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	return &Stream{
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

// Available reports whether the ffmpeg binary can be found.
func Available(cfg config.Capture) bool {
	_, err := exec.LookPath(cfg.FFmpegPath)
	return err == nil
}

func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	go s.logStderr()

	return nil
}

func (s *Stream) Audio() io.Reader {
	return s.stdout
}

// Stop kills ffmpeg and reaps it.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd.Process == nil {
		return nil
	}

	_ = s.cmd.Process.Kill()
	_ = s.cmd.Wait()

	return nil
}

func (s *Stream) logStderr() {
	scanner := bufio.NewScanner(s.stderr)
	for scanner.Scan() {
		slog.Debug("ffmpeg", "stderr", scanner.Text())
	}
}
