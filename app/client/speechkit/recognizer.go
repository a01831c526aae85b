package speechkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"v2v/app/client/microphone"
	"v2v/app/config"
	"v2v/app/service/capture"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const bufferSize = 4096

var errPhraseReceived = errors.New("phrase received")

type session interface {
	SendConfig() error
	Send(content []byte) error
	Recv() ([]string, error)
	Close() error
}

type audioSource interface {
	Start() error
	Audio() io.Reader
	Stop() error
}

// Recognizer captures one phrase from the microphone through SpeechKit streaming recognition.
type Recognizer struct {
	cfg         config.Capture
	openSession func(ctx context.Context) (session, error)
	openAudio   func(ctx context.Context) (audioSource, error)
}

func NewRecognizer(client *YandexSpeechKit, cfg config.Capture) *Recognizer {
	return &Recognizer{
		cfg: cfg,
		openSession: func(ctx context.Context) (session, error) {
			return client.Start(ctx)
		},
		openAudio: func(ctx context.Context) (audioSource, error) {
			return microphone.NewStream(ctx, cfg)
		},
	}
}

// Recognize streams microphone audio until the first final phrase arrives, then tears
// both the microphone and the recognition stream down.
func (r *Recognizer) Recognize(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.MaxDuration)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	handle, err := r.openSession(gctx)
	if err != nil {
		return "", mapError(fmt.Errorf("failed to start recognition: %w", err))
	}
	defer handle.Close()

	mic, err := r.openAudio(gctx)
	if err != nil {
		return "", fmt.Errorf("failed to open microphone: %w", err)
	}

	if err = mic.Start(); err != nil {
		return "", fmt.Errorf("failed to start microphone: %w", err)
	}
	defer mic.Stop()

	var phrase string

	g.Go(func() error {
		return streamAudio(gctx, mic.Audio(), handle)
	})

	g.Go(func() error {
		text, err := receivePhrase(gctx, handle)
		if err != nil {
			return err
		}

		phrase = text
		return errPhraseReceived
	})

	err = g.Wait()
	if errors.Is(err, errPhraseReceived) {
		slog.Debug("Phrase recognized", "text", phrase)
		return phrase, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}

	return "", mapError(err)
}

func streamAudio(ctx context.Context, audioSrc io.Reader, handle session) error {
	if err := handle.SendConfig(); err != nil {
		return fmt.Errorf("failed to send audio config: %w", err)
	}

	buffer := make([]byte, bufferSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			n, err := audioSrc.Read(buffer)
			if n > 0 {
				if sendErr := handle.Send(buffer[:n]); sendErr != nil {
					return fmt.Errorf("failed to send audio: %w", sendErr)
				}
			}

			if err != nil {
				return fmt.Errorf("failed to read audio: %w", err)
			}
		}
	}
}

func receivePhrase(ctx context.Context, handle session) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		alternatives, err := handle.Recv()
		if err != nil {
			return "", fmt.Errorf("Recv: %w", err)
		}

		if len(alternatives) > 0 {
			return alternatives[0], nil
		}
	}
}

func mapError(err error) error {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return fmt.Errorf("%w: %w", capture.ErrDenied, err)
	default:
		return err
	}
}
