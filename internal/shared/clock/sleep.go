// Package clock はコンテキストに従う待機処理を提供する
package clock

import (
	"context"
	"time"
)

// Sleep は d だけ待機する。ctx が先に終了した場合は ctx.Err() を返す。
// d が 0 以下なら即座に戻る。
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
