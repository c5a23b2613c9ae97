package notification

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/friendpush/internal/graph"
	"github.com/nao1215/friendpush/pkg/event"
	"github.com/nao1215/friendpush/pkg/fcm"
	"github.com/nao1215/friendpush/pkg/googleauth"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// State はパイプラインの状態。
type State string

const (
	// StateResolving は受信者を解決している状態。
	StateResolving State = "resolving"
	// StateCollecting はデバイストークンを集めている状態。
	StateCollecting State = "collecting"
	// StateAuthenticating はアクセストークンの発行を待っている状態。
	StateAuthenticating State = "authenticating"
	// StateDispatching は配信している状態。
	StateDispatching State = "dispatching"
	// StateDone は配信を終えた終端状態。
	StateDone State = "done"
	// StateNoRecipients は承認済みの友達がいなかった終端状態。
	StateNoRecipients State = "no_recipients"
	// StateNoTokens は友達の誰もトークンを持っていなかった終端状態。
	StateNoTokens State = "no_tokens"
)

// Minter はFCM用のアクセストークンを発行する。googleauth.Minterが満たす。
type Minter interface {
	Mint(ctx context.Context) (googleauth.AccessToken, error)
}

// RetryPolicy は再送可能な失敗をまとめて再送する方針。Attemptsが0なら再送しない。
type RetryPolicy struct {
	// Attempts は最初の配信に加えて行う再送の回数。
	Attempts int
	// Backoff は最初の再送までの待ち時間。再送のたびに倍になる。
	Backoff time.Duration
	// MaxBackoff は待ち時間の上限。0の場合は10秒。
	MaxBackoff time.Duration
}

// Result は1回の呼び出しの結果。
type Result struct {
	// InvocationID はログと突き合わせるための呼び出しID。
	InvocationID string `json:"invocation_id"`
	// State は終端状態。エラーの場合は失敗した時点の状態。
	State State `json:"state"`
	// Notified は配信を試みた件数（結果の件数）。
	Notified int `json:"notified"`
	// Delivered は配信に成功した件数。
	Delivered int `json:"delivered"`
	// Failed は配信に失敗した件数。
	Failed int `json:"failed"`
	// Outcomes は配信結果。
	Outcomes []Outcome `json:"-"`
}

// PipelineConfig はPipelineの構成要素。
type PipelineConfig struct {
	// Store はソーシャルグラフの参照先。
	Store graph.Store
	// Minter はアクセストークンの発行元。
	Minter Minter
	// Sender は配信先。
	Sender Sender
	// Suppressor は登録解除トークンの抑止キャッシュ。nilの場合は抑止しない。
	Suppressor Suppressor
	// Template は通知メッセージの雛形。
	Template Template
	// Concurrency は同時に送信する最大数。
	Concurrency int
	// DeliveryTimeout は1件の送信のタイムアウト。
	DeliveryTimeout time.Duration
	// Retry は再送の方針。
	Retry RetryPolicy
	// Metrics はメトリクス。nilの場合は記録しない。
	Metrics *Metrics
	// Log はロガー。
	Log *logrus.Entry
}

// Pipeline は新規投稿から友達への配信までを実行する。
// 呼び出し間で共有する可変状態は抑止キャッシュとメトリクスのみで、並行に実行できる。
type Pipeline struct {
	resolver   *Resolver
	collector  *Collector
	dispatcher *Dispatcher
	minter     Minter
	profiles   graph.ProfileStore
	suppressor Suppressor
	template   Template
	retry      RetryPolicy
	metrics    *Metrics
	log        *logrus.Entry
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewPipeline は新しいPipelineを生成する。
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Retry.MaxBackoff <= 0 {
		cfg.Retry.MaxBackoff = 10 * time.Second
	}
	return &Pipeline{
		resolver:  NewResolver(cfg.Store),
		collector: NewCollector(cfg.Store, cfg.Suppressor, cfg.Log),
		dispatcher: NewDispatcher(cfg.Sender,
			WithConcurrency(cfg.Concurrency),
			WithDeliveryTimeout(cfg.DeliveryTimeout),
		),
		minter:     cfg.Minter,
		profiles:   cfg.Store,
		suppressor: cfg.Suppressor,
		template:   cfg.Template,
		retry:      cfg.Retry,
		metrics:    cfg.Metrics,
		log:        cfg.Log,
		sleep:      sleepContext,
	}
}

// Run は新規投稿イベントを処理する。
// 友達がいない場合とトークンが無い場合は、アクセストークンの発行結果にかかわらず
// Notified=0の成功として終わる。返すエラーは*InputError、*LookupError、*AuthErrorのいずれか。
func (p *Pipeline) Run(ctx context.Context, ev *event.PostCreated) (Result, error) {
	start := time.Now()
	res := Result{InvocationID: uuid.New().String()}
	log := p.log.WithField("invocation_id", res.InvocationID)

	if ev == nil {
		return p.finish(log, res, 0, start, &InputError{Err: event.ErrMissingRecord})
	}
	if err := ev.Validate(); err != nil {
		return p.finish(log, res, 0, start, &InputError{Err: err})
	}
	authorID := ev.Record.UserID
	postID := ev.Record.PostIdentity()
	log = log.WithFields(logrus.Fields{"author_id": authorID, "post_id": postID})

	// アクセストークンの発行と投稿者名の取得は受信者の解決と並行して進める。
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()

	var g errgroup.Group
	var accessToken googleauth.AccessToken
	g.Go(func() error {
		tok, err := p.minter.Mint(bgCtx)
		if err != nil {
			return err
		}
		accessToken = tok
		return nil
	})
	var authorName string
	g.Go(func() error {
		authorName = p.displayName(bgCtx, log, authorID)
		return nil
	})
	abandon := func() {
		cancelBg()
		_ = g.Wait()
	}

	res.State = p.transition(log, StateResolving)
	recipients, err := p.resolver.Resolve(ctx, authorID)
	if err != nil {
		abandon()
		return p.finish(log, res, 0, start, err)
	}
	if len(recipients) == 0 {
		abandon()
		res.State = p.transition(log, StateNoRecipients)
		return p.finish(log, res, 0, start, nil)
	}

	res.State = p.transition(log, StateCollecting)
	ids := make([]string, len(recipients))
	for i, r := range recipients {
		ids[i] = r.UserID
	}
	targets, err := p.collector.Collect(ctx, ids)
	if err != nil {
		abandon()
		return p.finish(log, res, len(recipients), start, err)
	}
	if len(targets) == 0 {
		abandon()
		res.State = p.transition(log, StateNoTokens)
		return p.finish(log, res, len(recipients), start, nil)
	}

	res.State = p.transition(log, StateAuthenticating)
	if err := g.Wait(); err != nil {
		return p.finish(log, res, len(recipients), start, &AuthError{Err: err})
	}

	res.State = p.transition(log, StateDispatching)
	data := map[string]string{"type": "new_post", "author_id": authorID}
	if postID != "" {
		data["post_id"] = postID
	}
	msg := p.template.Render(authorName, data)

	outcomes := p.dispatcher.Dispatch(ctx, accessToken.Token, msg, targets)
	outcomes = p.retryFailed(ctx, log, accessToken.Token, msg, targets, outcomes)
	p.suppressUnregistered(ctx, log, outcomes)

	res.State = p.transition(log, StateDone)
	res.Outcomes = outcomes
	res.Notified = len(outcomes)
	for _, o := range outcomes {
		if o.Success {
			res.Delivered++
		} else {
			res.Failed++
			log.WithFields(logrus.Fields{
				"recipient_id": o.UserID,
				"status_code":  o.StatusCode,
				"retryable":    o.Retryable,
			}).WithError(o.Err).Warn("配信に失敗しました")
		}
	}
	return p.finish(log, res, len(recipients), start, nil)
}

// displayName は投稿者の表示名を返す。取得に失敗しても空文字を返して処理を続ける。
func (p *Pipeline) displayName(ctx context.Context, log *logrus.Entry, authorID string) string {
	name, err := p.profiles.DisplayName(ctx, authorID)
	if err != nil {
		log.WithError(err).Debug("投稿者の表示名を取得できないため既定の名前を使います")
		return ""
	}
	return name
}

// retryFailed は再送可能な失敗だけを集めて再送し、結果を元の位置に書き戻す。
// 結果の件数はtargetsの件数のまま変わらない。
func (p *Pipeline) retryFailed(ctx context.Context, log *logrus.Entry, accessToken string, msg fcm.Message, targets []graph.DeviceToken, outcomes []Outcome) []Outcome {
	backoff := p.retry.Backoff
	for attempt := 1; attempt <= p.retry.Attempts; attempt++ {
		var idx []int
		var again []graph.DeviceToken
		for i, o := range outcomes {
			if !o.Success && o.Retryable {
				idx = append(idx, i)
				again = append(again, targets[i])
			}
		}
		if len(idx) == 0 {
			return outcomes
		}

		wait := jitter(backoff)
		if wait > p.retry.MaxBackoff {
			wait = p.retry.MaxBackoff
		}
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"targets": len(again),
			"wait":    wait.String(),
		}).Info("再送可能な失敗を再送します")
		if err := p.sleep(ctx, wait); err != nil {
			return outcomes
		}

		retried := p.dispatcher.Dispatch(ctx, accessToken, msg, again)
		for j, i := range idx {
			outcomes[i] = retried[j]
		}
		backoff *= 2
	}
	return outcomes
}

// suppressUnregistered は登録解除済みと判定されたトークンを抑止キャッシュに登録する。
func (p *Pipeline) suppressUnregistered(ctx context.Context, log *logrus.Entry, outcomes []Outcome) {
	if p.suppressor == nil {
		return
	}
	var stale []string
	for _, o := range outcomes {
		if o.Unregistered {
			stale = append(stale, o.Token)
		}
	}
	if len(stale) == 0 {
		return
	}
	if err := p.suppressor.Suppress(ctx, stale...); err != nil {
		log.WithError(err).Warn("登録解除トークンの抑止登録に失敗しました")
		return
	}
	log.WithField("tokens", len(stale)).Info("登録解除トークンを抑止しました")
}

func (p *Pipeline) transition(log *logrus.Entry, s State) State {
	log.WithField("state", s).Debug("状態が遷移しました")
	return s
}

// finish は結果をログとメトリクスに記録して返す。
func (p *Pipeline) finish(log *logrus.Entry, res Result, recipients int, start time.Time, err error) (Result, error) {
	elapsed := time.Since(start)
	label := res.State
	if err != nil {
		label = "failed"
		log.WithField("state", res.State).WithError(err).Error("通知パイプラインが失敗しました")
	} else {
		log.WithFields(logrus.Fields{
			"state":      res.State,
			"recipients": recipients,
			"notified":   res.Notified,
			"delivered":  res.Delivered,
			"failed":     res.Failed,
			"elapsed_ms": elapsed.Milliseconds(),
		}).Info("通知パイプラインが完了しました")
	}
	p.metrics.observe(label, recipients, res.Outcomes, elapsed)
	return res, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// jitter はdに最大20%の揺らぎを加える。
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Float64()*0.2*float64(d))
}
