// Package notify は確認コードをクリニックの連絡先へ届ける送信機能を提供する。
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/hitoshi/clinicclaim/internal/model"
)

// ErrDeliveryFailed は通知の送信に失敗したことを示す。
// 送信実装が返すエラーは全てこのエラーをラップする。
var ErrDeliveryFailed = errors.New("notify: delivery failed")

// Notifier は確認コードを送信するインターフェース。
type Notifier interface {
	// Send はaddressへcodeを送信する。
	Send(ctx context.Context, channel model.Channel, address, code string) error
}

// Sender は単一チャネルの送信実装。
type Sender interface {
	Send(ctx context.Context, address, code string) error
}

// Router はチャネルごとに送信実装を切り替えるNotifier。
type Router struct {
	senders map[model.Channel]Sender
}

// NewRouter はemailとphoneの送信実装からRouterを生成する。
// nilの送信実装を渡したチャネルへの送信はエラーになる。
func NewRouter(email, phone Sender) *Router {
	senders := make(map[model.Channel]Sender, 2)
	if email != nil {
		senders[model.ChannelEmail] = email
	}
	if phone != nil {
		senders[model.ChannelPhone] = phone
	}
	return &Router{senders: senders}
}

// Send はチャネルに対応する送信実装へ委譲する。
func (r *Router) Send(ctx context.Context, channel model.Channel, address, code string) error {
	sender, ok := r.senders[channel]
	if !ok {
		return fmt.Errorf("%w: no sender for channel %s", ErrDeliveryFailed, channel)
	}
	if err := sender.Send(ctx, address, code); err != nil {
		if errors.Is(err, ErrDeliveryFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

// compile-time interface check
var _ Notifier = (*Router)(nil)
