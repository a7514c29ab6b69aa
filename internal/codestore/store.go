// Package codestore は確認コードの一時保存を提供する。
// コードは(clinicID, channel)ごとに最大1件保持され、TTL経過後または照合成功後に消滅する。
package codestore

import (
	"context"
	"time"

	"github.com/hitoshi/clinicclaim/internal/model"
)

// Store は確認コードの保存と照合のインターフェース。
type Store interface {
	// Put は(clinicID, channel)のコードを保存する。既存のコードは置き換えられる。
	Put(ctx context.Context, clinicID string, channel model.Channel, code string, ttl time.Duration) error

	// TakeIfValid はemail、phoneの順にコードを照合し、
	// 一致かつ有効期限内のエントリがあればそれを削除してチャネルを返す。
	// 照合と削除は不可分に行われ、同じコードが2回成功することはない。
	TakeIfValid(ctx context.Context, clinicID, code string) (model.Channel, bool, error)

	// PurgeExpired は期限切れのエントリを削除し、削除件数を返す。
	PurgeExpired(ctx context.Context) (int64, error)
}
