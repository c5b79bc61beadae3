package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyFormat はPEMまたはDERの形式が不正な場合のエラー。
	ErrKeyFormat = errors.New("malformed key material")

	// ErrDecryption はRSA-OAEPの復号に失敗した場合のエラー。
	ErrDecryption = errors.New("decryption failed")

	// ErrAuthentication は署名・AEADタグ・HMACの検証に失敗した場合のエラー。
	ErrAuthentication = errors.New("authentication failed")

	// ErrSessionMismatch はセッション鍵が要求された加盟店のものではない場合のエラー。
	ErrSessionMismatch = errors.New("session keys do not belong to merchant")

	// ErrNoSession は利用可能なセッション鍵が存在しない場合のエラー。
	ErrNoSession = errors.New("no session for merchant")

	// ErrValidation は入力値が不正な場合のエラー。
	ErrValidation = errors.New("invalid input")

	// ErrProtocol はピアが構造的に不正な応答を返した場合のエラー。
	ErrProtocol = errors.New("protocol violation")

	// ErrTransport はピアとの通信に失敗した場合のエラー。
	ErrTransport = errors.New("transport failure")

	// ErrCanceled は呼び出し元のコンテキストがキャンセルまたはタイムアウトした場合のエラー。
	ErrCanceled = errors.New("operation canceled")

	// ErrReplay は同じnonceが再送された場合のエラー。
	ErrReplay = errors.New("replayed nonce")

	// ErrStaleTimestamp はタイムスタンプが許容範囲外の場合のエラー。
	ErrStaleTimestamp = errors.New("timestamp outside allowed window")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)

// ValidationError は不正な入力フィールドを表す。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is は errors.Is(err, ErrValidation) を満たす。
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ExchangeError は鍵交換が失敗した時点の状態を保持する。
type ExchangeError struct {
	State ExchangeState
	Err   error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("key exchange failed in state %s: %v", e.State, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// IsInputError は入力の再収集で回復できるエラーかどうかを返す。
func IsInputError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsChannelError は鍵交換のやり直しが必要なエラーかどうかを返す。
func IsChannelError(err error) bool {
	for _, target := range []error{
		ErrKeyFormat, ErrDecryption, ErrAuthentication,
		ErrSessionMismatch, ErrNoSession, ErrProtocol,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
