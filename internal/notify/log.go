package notify

import (
	"context"
	"log/slog"

	"github.com/hitoshi/clinicclaim/internal/model"
)

// LogSender は実際には送信せず、ログに記録するだけの開発用Notifier。
// 宛先はマスクし、コードは出力しない。
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender はLogSenderを生成する。
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send は送信したことだけをログに残す。
func (s *LogSender) Send(ctx context.Context, channel model.Channel, address, _ string) error {
	masked := model.MaskEmail(address)
	if channel == model.ChannelPhone {
		masked = model.MaskPhone(address)
	}
	s.logger.InfoContext(ctx, "確認コードの送信をスキップしました（ログ送信モード）",
		slog.String("channel", string(channel)),
		slog.String("address", masked),
	)
	return nil
}

// compile-time interface check
var _ Notifier = (*LogSender)(nil)
