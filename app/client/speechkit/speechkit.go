package speechkit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"v2v/app/config"

	"github.com/samber/do"
	ycsdk "github.com/yandex-cloud/go-sdk"
	"github.com/yandex-cloud/go-sdk/iamkey"
)

// YandexSpeechKit opens STT v3 streaming sessions; it backs speech capture through Recognizer.
type YandexSpeechKit struct {
	cfg *config.Config
	sdk *ycsdk.SDK
}

func NewClient(di *do.Injector) (*YandexSpeechKit, error) {
	ctx := do.MustInvoke[context.Context](di)
	cfg := do.MustInvoke[*config.Config](di)

	keyBytes, err := os.ReadFile(cfg.Speech.Capture.ServiceAccountKey)
	if err != nil {
		return nil, fmt.Errorf("could not read service account key: %w", err)
	}

	var key iamkey.Key
	if err = json.Unmarshal(keyBytes, &key); err != nil {
		return nil, fmt.Errorf("could not parse service account key: %w", err)
	}

	creds, err := ycsdk.ServiceAccountKey(&key)
	if err != nil {
		return nil, fmt.Errorf("could not create service account key: %w", err)
	}

	sdk, err := ycsdk.Build(ctx, ycsdk.Config{
		Credentials: creds,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Yandex SDK: %w", err)
	}

	return &YandexSpeechKit{
		cfg: cfg,
		sdk: sdk,
	}, nil
}

// Start opens a streaming recognition session. Cancelling ctx or closing the handle ends it.
func (y *YandexSpeechKit) Start(ctx context.Context) (*Handle, error) {
	ctx, cancel := context.WithCancel(ctx)

	client, err := y.sdk.AI().STTV3().Recognizer().RecognizeStreaming(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Handle{
		client: client,
		cancel: cancel,
		locale: y.cfg.Speech.Locale,
	}, nil
}

func (y *YandexSpeechKit) Shutdown() error {
	return y.sdk.Shutdown(context.Background())
}
