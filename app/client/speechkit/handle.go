package speechkit

import (
	"context"
	"fmt"
	"strings"
	"v2v/app/client/microphone"

	"github.com/yandex-cloud/go-genproto/yandex/cloud/ai/stt/v3"
)

type stream interface {
	Send(*stt.StreamingRequest) error
	Recv() (*stt.StreamingResponse, error)
}

type Handle struct {
	client stream
	cancel context.CancelFunc
	locale string
}

func (h *Handle) Send(content []byte) error {
	var req stt.StreamingRequest
	req.SetChunk(&stt.AudioChunk{
		Data: content,
	})

	return h.client.Send(&req)
}

func (h *Handle) SendConfig() error {
	var audioFormatOpts stt.AudioFormatOptions
	audioFormatOpts.SetRawAudio(&stt.RawAudio{
		AudioEncoding:     stt.RawAudio_LINEAR16_PCM,
		SampleRateHertz:   microphone.SampleRate,
		AudioChannelCount: microphone.Channels,
	})

	var eouClassifier stt.EouClassifierOptions
	eouClassifier.SetDefaultClassifier(&stt.DefaultEouClassifier{
		Type:                       stt.DefaultEouClassifier_HIGH,
		MaxPauseBetweenWordsHintMs: 800,
	})

	var req stt.StreamingRequest
	req.SetSessionOptions(&stt.StreamingOptions{
		RecognitionModel: &stt.RecognitionModelOptions{
			Model:       "general",
			AudioFormat: &audioFormatOpts,
			LanguageRestriction: &stt.LanguageRestrictionOptions{
				RestrictionType: stt.LanguageRestrictionOptions_WHITELIST,
				LanguageCode:    []string{h.locale},
			},
		},
		EouClassifier: &eouClassifier,
	})

	return h.client.Send(&req)
}

// Recv returns the alternatives of the next final result; nil when the response carried
// only partial hypotheses.
func (h *Handle) Recv() ([]string, error) {
	res, err := h.client.Recv()
	if err != nil {
		return nil, fmt.Errorf("failed to receive stt: %w", err)
	}

	finalEvent := res.GetFinal()
	if finalEvent == nil {
		return nil, nil
	}

	result := make([]string, 0, len(finalEvent.Alternatives))
	for _, alt := range finalEvent.Alternatives {
		text := strings.TrimSpace(alt.Text)
		if text == "" {
			continue
		}

		result = append(result, text)
	}

	return result, nil
}

func (h *Handle) Close() error {
	h.cancel()
	return nil
}
