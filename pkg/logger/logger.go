// Package logger はプロセス全体のslogロガーを保持する
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var globalLogger *slog.Logger

// ParseLevel ログレベル名をslogのレベルに変換
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
}

// InitLogger ログレベルに応じてslogを初期化
func InitLogger(level string) error {
	return InitLoggerTo(os.Stdout, level, false)
}

// InitLoggerTo wに出力するロガーを初期化
// asJSONが指定されている場合はJSONで出力する
func InitLoggerTo(w io.Writer, level string, asJSON bool) error {
	slogLevel, err := ParseLevel(level)
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: slogLevel}
	var handler slog.Handler
	if asJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
	return nil
}

// GetLogger グローバルロガーを取得
// 初期化前はslog.Defaultを返す
func GetLogger() *slog.Logger {
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}
