package event

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Decode はWebhookのボディを指定された行型のPayloadにデシリアライズする。
func Decode[T any](data []byte) (*Payload[T], error) {
	var p Payload[T]
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("イベントのデシリアライズに失敗: %w", err)
	}
	return &p, nil
}

// Validate は新規投稿イベントの必須項目を検証する。
// 投稿者IDは前後の空白を取り除いて正規化する。
func (p *Payload[T]) Validate() error {
	if p.Record == nil {
		return ErrMissingRecord
	}
	if rec, ok := any(p.Record).(*PostRecord); ok {
		rec.UserID = strings.TrimSpace(rec.UserID)
		if rec.UserID == "" {
			return ErrMissingUserID
		}
	}
	return nil
}
