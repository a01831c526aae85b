package device

import (
	"log/slog"
	"v2v/app/client/microphone"
	"v2v/app/client/speechkit"
	"v2v/app/client/voice"
	"v2v/app/config"
	"v2v/app/service/capture"
	"v2v/app/service/output"

	"github.com/samber/do"
)

// Capabilities holds the speech devices found on this machine. A nil field means the
// capability is not supported.
type Capabilities struct {
	Recognizer capture.Recognizer
	Speaker    output.Speaker
}

func Probe(di *do.Injector) (*Capabilities, error) {
	cfg := do.MustInvoke[*config.Config](di)

	var caps Capabilities

	if recognizer := probeCapture(di, cfg); recognizer != nil {
		caps.Recognizer = recognizer
	}

	player := voice.NewPlayer(cfg.Speech.Output)
	if player.Available() {
		caps.Speaker = player
	} else {
		slog.Warn("Speech output unavailable", "command", cfg.Speech.Output.Command)
	}

	slog.Info("Speech devices probed",
		"capture", caps.Recognizer != nil,
		"output", caps.Speaker != nil,
		"locale", cfg.Speech.Locale)

	return &caps, nil
}

func probeCapture(di *do.Injector, cfg *config.Config) *speechkit.Recognizer {
	if !microphone.Available(cfg.Speech.Capture) {
		slog.Warn("Speech capture unavailable: ffmpeg not found", "path", cfg.Speech.Capture.FFmpegPath)
		return nil
	}

	client, err := do.Invoke[*speechkit.YandexSpeechKit](di)
	if err != nil {
		slog.Warn("Speech capture unavailable: SpeechKit client failed", "error", err)
		return nil
	}

	return speechkit.NewRecognizer(client, cfg.Speech.Capture)
}

func NewOutputController(di *do.Injector) (*output.Controller, error) {
	caps := do.MustInvoke[*Capabilities](di)

	return output.NewController(caps.Speaker), nil
}

func NewCaptureController(di *do.Injector) (*capture.Controller, error) {
	caps := do.MustInvoke[*Capabilities](di)

	return capture.NewController(caps.Recognizer, do.MustInvoke[*output.Controller](di)), nil
}
