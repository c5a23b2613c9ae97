// Package logger はlogrusベースの構造化ロガーを提供する。
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New はサービス名フィールド付きのJSONロガーを生成する。
// levelには debug / info / warn / error を指定する。それ以外はinfoとして扱う。
func New(service, level string) *logrus.Entry {
	return newWithOutput(service, level, os.Stdout)
}

// Discard は出力を捨てるロガーを返す。テストで使用する。
func Discard() *logrus.Entry {
	return newWithOutput("test", "error", io.Discard)
}

func newWithOutput(service, level string, out io.Writer) *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	log.SetOutput(out)
	log.SetLevel(ParseLevel(level))
	return log.WithField("service", service)
}

// ParseLevel は文字列をlogrusのログレベルに変換する。
func ParseLevel(raw string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
