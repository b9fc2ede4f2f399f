package app

import (
	"fmt"
)

// ErrorKind 実行時エラーの種別
type ErrorKind string

const (
	// 入力ファイル単位のエラー（そのファイルを除外して続行）
	KindInputUnavailable ErrorKind = "INPUT_UNAVAILABLE"
	KindNoEventData      ErrorKind = "NO_EVENT_DATA"

	// 実行全体を中断するエラー
	KindNoMappings         ErrorKind = "NO_MAPPINGS_AVAILABLE"
	KindOutputWriteFailure ErrorKind = "OUTPUT_WRITE_FAILURE"
	KindInvalidConfig      ErrorKind = "INVALID_CONFIG"
)

// RunError 実行中に発生したエラーを種別とファイルパス付きで保持する
type RunError struct {
	Kind    ErrorKind
	Path    string // 関連するファイル（なければ空）
	Message string // 利用者向けメッセージ（なければErrのメッセージを使う）
	Err     error
}

// Error errorインターフェースの実装
func (e *RunError) Error() string {
	msg := e.Message
	switch {
	case msg == "" && e.Err != nil:
		msg = e.Err.Error()
	case msg != "" && e.Err != nil:
		msg = msg + ": " + e.Err.Error()
	}
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Path, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap errors.Is / errors.As で元のエラーを辿れるようにする
func (e *RunError) Unwrap() error {
	return e.Err
}

// IsFatal 実行を中断すべきエラーかどうかを返す
func (e *RunError) IsFatal() bool {
	switch e.Kind {
	case KindInputUnavailable, KindNoEventData:
		return false
	default:
		return true
	}
}

func newRunError(kind ErrorKind, path string, err error) *RunError {
	return &RunError{Kind: kind, Path: path, Err: err}
}
