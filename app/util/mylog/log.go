package mylog

import (
	"context"
	"log/slog"
	"os"
	"v2v/app/config"

	"github.com/phsym/console-slog"
	slogmulti "github.com/samber/slog-multi"
	slogtelegram "github.com/samber/slog-telegram/v2"
)

// TelegramKey marks a record that must reach the telegram sink regardless of its level.
const TelegramKey = "telegram"

func Preinit() {
	slog.SetDefault(slog.New(consoleHandler()))
}

func Init(cfg *config.Config) error {
	router := slogmulti.Router()

	router = router.Add(consoleHandler())

	if cfg.Log.Telegram.Token != "" {
		router = router.Add(
			slogtelegram.Option{
				Level:     slog.LevelDebug,
				Token:     cfg.Log.Telegram.Token,
				Username:  cfg.Log.Telegram.ChatID,
				AddSource: true,
			}.NewTelegramHandler(),
			forTelegram,
		)
	}

	slog.SetDefault(slog.New(router.Handler()))

	return nil
}

func consoleHandler() slog.Handler {
	return console.NewHandler(os.Stderr, &console.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	})
}

func forTelegram(_ context.Context, r slog.Record) bool {
	hasTelegram := false

	r.Attrs(func(attr slog.Attr) bool {
		if attr.Key == TelegramKey {
			hasTelegram = true
			return false
		}

		return true
	})

	return r.Level == slog.LevelError || hasTelegram
}
