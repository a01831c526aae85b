package mylog

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestForTelegram(t *testing.T) {
	tests := []struct {
		name  string
		level slog.Level
		attrs []slog.Attr
		want  bool
	}{
		{name: "error always", level: slog.LevelError, want: true},
		{name: "info untagged", level: slog.LevelInfo, want: false},
		{name: "info tagged", level: slog.LevelInfo, attrs: []slog.Attr{slog.Bool(TelegramKey, true)}, want: true},
		{name: "warn tagged", level: slog.LevelWarn, attrs: []slog.Attr{slog.Bool(TelegramKey, true)}, want: true},
		{name: "warn other attrs", level: slog.LevelWarn, attrs: []slog.Attr{slog.String("text", "x")}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := slog.NewRecord(time.Now(), tt.level, "msg", 0)
			r.AddAttrs(tt.attrs...)

			assert.Equal(t, tt.want, forTelegram(context.Background(), r))
		})
	}
}
