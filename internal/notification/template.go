package notification

import (
	"strings"

	"github.com/nao1215/friendpush/pkg/fcm"
)

// namePlaceholder は本文中で投稿者名に置き換える文字列。
const namePlaceholder = "{{name}}"

// Template は通知メッセージの雛形。
type Template struct {
	// Title は通知のタイトル。
	Title string
	// Body は本文。{{name}}が投稿者の表示名に置き換わる。
	Body string
	// FallbackName は表示名が取得できない場合に使う名前。
	FallbackName string
	// ClickAction はAndroidのclick_action。空の場合は設定しない。
	ClickAction string
	// Sound はAndroidの通知音。空の場合は設定しない。
	Sound string
}

// DefaultTemplate は既定の通知メッセージの雛形を返す。
func DefaultTemplate() Template {
	return Template{
		Title:        "FLOW Moments",
		Body:         namePlaceholder + " just shared a new moment! ✨",
		FallbackName: "a friend",
		ClickAction:  "FLUTTER_NOTIFICATION_CLICK",
		Sound:        "default",
	}
}

// Render は投稿者名を埋め込んだ送信用メッセージを返す。Tokenは配信時に設定する。
func (t Template) Render(displayName string, data map[string]string) fcm.Message {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = t.FallbackName
	}

	msg := fcm.Message{
		Notification: &fcm.Notification{
			Title: t.Title,
			Body:  strings.ReplaceAll(t.Body, namePlaceholder, name),
		},
		Data: data,
	}
	if t.ClickAction != "" || t.Sound != "" {
		msg.Android = &fcm.AndroidConfig{Notification: &fcm.AndroidNotification{
			ClickAction: t.ClickAction,
			Sound:       t.Sound,
		}}
	}
	return msg
}
