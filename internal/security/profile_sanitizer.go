// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ProfileSanitizer はユーザーが送信するプロフィール文字列からHTMLを取り除く。
// URLGuard は外部プロバイダーへの通信とプロフィールに保存するURLを検証する。
package security

import (
	"errors"
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxDisplayNameLength は表示名の最大文字数（ルーン数）。
const MaxDisplayNameLength = 64

// ErrDisplayNameTooLong は表示名が最大文字数を超えた場合のエラー。
var ErrDisplayNameTooLong = errors.New("display name too long")

// ErrDisplayNameMarkup は多重にエスケープされたマークアップを含む表示名のエラー。
var ErrDisplayNameMarkup = errors.New("display name contains encoded markup")

// maxUnescapeRounds はエンティティの展開とタグ除去を繰り返す上限。
const maxUnescapeRounds = 3

// ProfileSanitizer はプロフィール入力のサニタイズ機能のインターフェースを定義する。
type ProfileSanitizer interface {
	// SanitizeDisplayName は表示名から全てのHTMLタグと制御文字を除去し、前後の空白を取り除く。
	// 結果がMaxDisplayNameLengthを超える場合はErrDisplayNameTooLongを返す。
	SanitizeDisplayName(raw string) (string, error)
}

// profileSanitizer はProfileSanitizerの実装。
// bluemondayのStrictPolicyは全てのタグを除去し、テキストのみを残す。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerの新しいインスタンスを生成する。
func NewProfileSanitizer() *profileSanitizer {
	return &profileSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeDisplayName は表示名をプレーンテキストに正規化する。
func (s *profileSanitizer) SanitizeDisplayName(raw string) (string, error) {
	text, err := s.stripMarkup(raw)
	if err != nil {
		return "", err
	}
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	text = strings.TrimSpace(text)

	if utf8.RuneCountInString(text) > MaxDisplayNameLength {
		return "", ErrDisplayNameTooLong
	}
	return text, nil
}

// stripMarkup はタグ除去とエンティティの展開を結果が変わらなくなるまで繰り返す。
// StrictPolicyは&などをエスケープするため保存前にテキストへ戻すが、
// 展開で現れた&lt;script&gt;のようなタグも次の周回で除去する。
func (s *profileSanitizer) stripMarkup(raw string) (string, error) {
	text := raw
	for range maxUnescapeRounds {
		next := html.UnescapeString(s.policy.Sanitize(text))
		if next == text {
			return text, nil
		}
		text = next
	}
	if html.UnescapeString(s.policy.Sanitize(text)) != text {
		return "", ErrDisplayNameMarkup
	}
	return text, nil
}
