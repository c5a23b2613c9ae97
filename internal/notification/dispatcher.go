package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nao1215/friendpush/internal/graph"
	"github.com/nao1215/friendpush/pkg/fcm"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultConcurrency は同時に送信する既定の最大数。
	DefaultConcurrency = 64
	// DefaultDeliveryTimeout は1件の送信の既定のタイムアウト。
	DefaultDeliveryTimeout = 10 * time.Second
)

// Sender は1件のメッセージを配信する。fcm.Clientが満たす。
type Sender interface {
	Send(ctx context.Context, accessToken string, msg fcm.Message) (string, error)
}

// Outcome は1件の配信結果。
type Outcome struct {
	// UserID はトークンの所有者。
	UserID string `json:"user_id"`
	// Token は配信先のデバイストークン。
	Token string `json:"-"`
	// Success は配信に成功したか。
	Success bool `json:"success"`
	// MessageName はFCMが割り当てたメッセージ名。成功時のみ。
	MessageName string `json:"message_name,omitempty"`
	// StatusCode はFCMのHTTPステータス。通信エラーの場合は0。
	StatusCode int `json:"status_code,omitempty"`
	// Retryable は再送で成功し得る失敗か。
	Retryable bool `json:"retryable,omitempty"`
	// Unregistered はトークンが登録解除済みであることを示す失敗か。
	Unregistered bool `json:"unregistered,omitempty"`
	// Err は失敗時の*DeliveryError。
	Err error `json:"-"`
}

// DispatcherOption はDispatcherの設定を変更する。
type DispatcherOption func(*Dispatcher)

// WithConcurrency は同時に送信する最大数を設定する。0以下は無視する。
func WithConcurrency(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = int64(n)
		}
	}
}

// WithDeliveryTimeout は1件の送信のタイムアウトを設定する。0以下は無視する。
func WithDeliveryTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// Dispatcher はトークンごとに並行して配信し、結果を集める。
type Dispatcher struct {
	sender      Sender
	concurrency int64
	timeout     time.Duration
}

// NewDispatcher は新しいDispatcherを生成する。
func NewDispatcher(sender Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sender:      sender,
		concurrency: DefaultConcurrency,
		timeout:     DefaultDeliveryTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch はtargetsそれぞれにmsgを配信し、targetsと同じ長さ・同じ並びの結果を返す。
// 1件の失敗やタイムアウトはその宛先の失敗結果になるだけで、他の配信を止めない。
// targetsが空の場合はSenderを呼ばずに空のスライスを返す。
func (d *Dispatcher) Dispatch(ctx context.Context, accessToken string, msg fcm.Message, targets []graph.DeviceToken) []Outcome {
	outcomes := make([]Outcome, len(targets))
	if len(targets) == 0 {
		return outcomes
	}

	sem := semaphore.NewWeighted(d.concurrency)
	var wg sync.WaitGroup
	for i, target := range targets {
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes[i] = failure(target, err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[i] = d.deliver(ctx, accessToken, msg, target)
		}()
	}
	wg.Wait()
	return outcomes
}

// deliver は1件を配信する。Senderのパニックも失敗結果に変換する。
func (d *Dispatcher) deliver(ctx context.Context, accessToken string, msg fcm.Message, target graph.DeviceToken) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = failure(target, fmt.Errorf("送信中にパニックが発生: %v", r))
			out.Retryable = false
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	msg.Token = target.Token
	name, err := d.sender.Send(ctx, accessToken, msg)
	if err != nil {
		return failure(target, err)
	}
	return Outcome{
		UserID:      target.UserID,
		Token:       target.Token,
		Success:     true,
		MessageName: name,
	}
}

// failure は送信エラーを分類して失敗結果を作る。
func failure(target graph.DeviceToken, err error) Outcome {
	status := 0
	var se *fcm.SendError
	if errors.As(err, &se) {
		status = se.StatusCode
	}
	return Outcome{
		UserID:       target.UserID,
		Token:        target.Token,
		StatusCode:   status,
		Retryable:    fcm.IsRetryable(err),
		Unregistered: fcm.IsUnregistered(err),
		Err:          &DeliveryError{Token: target.Token, StatusCode: status, Err: err},
	}
}
