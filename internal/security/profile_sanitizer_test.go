package security

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeDisplayName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキスト", "Alice", "Alice"},
		{"日本語", "山田 太郎", "山田 太郎"},
		{"前後の空白", "  Bob  ", "Bob"},
		{"タグ除去", "<b>Carol</b>", "Carol"},
		{"scriptタグ", "<script>alert(1)</script>Dave", "Dave"},
		{"イベント属性", `<img src=x onerror="alert(1)">Eve`, "Eve"},
		{"アンパサンド", "Tom & Jerry", "Tom & Jerry"},
		{"制御文字", "Fr\x00an\nk", "Frank"},
		{"空文字列", "", ""},
		{"エスケープされたscriptタグ", "&lt;script&gt;alert(1)&lt;/script&gt;", ""},
		{"エスケープされたタグと本文", "&lt;b&gt;Ivan&lt;/b&gt;", "Ivan"},
		{"エスケープされたイベント属性", "&lt;img src=x onerror=alert(1)&gt;Judy", "Judy"},
		{"数値文字参照", "&#60;i&#62;Mallory&#60;/i&#62;", "Mallory"},
		{"不等号のみ", "a &lt; b", "a < b"},
	}

	s := NewProfileSanitizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.SanitizeDisplayName(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("SanitizeDisplayName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeDisplayName_Length(t *testing.T) {
	s := NewProfileSanitizer()

	exact := strings.Repeat("あ", MaxDisplayNameLength)
	got, err := s.SanitizeDisplayName(exact)
	if err != nil {
		t.Fatalf("unexpected error for %d runes: %v", MaxDisplayNameLength, err)
	}
	if got != exact {
		t.Errorf("got %q, want unchanged", got)
	}

	_, err = s.SanitizeDisplayName(exact + "あ")
	if !errors.Is(err, ErrDisplayNameTooLong) {
		t.Errorf("error = %v, want ErrDisplayNameTooLong", err)
	}

	// タグは長さに含めない
	wrapped := "<em>" + exact + "</em>"
	if _, err := s.SanitizeDisplayName(wrapped); err != nil {
		t.Errorf("unexpected error for tagged input: %v", err)
	}
}

func TestSanitizeDisplayName_Idempotent(t *testing.T) {
	s := NewProfileSanitizer()
	first, _ := s.SanitizeDisplayName("<p>Grace &amp; Co</p>")
	second, _ := s.SanitizeDisplayName(first)
	if first != second {
		t.Errorf("not idempotent: %q then %q", first, second)
	}
}

func TestSanitizeDisplayName_NoMarkupSurvives(t *testing.T) {
	s := NewProfileSanitizer()

	inputs := []string{
		"&lt;script&gt;alert(1)&lt;/script&gt;",
		"&amp;lt;script&amp;gt;alert(1)&amp;lt;/script&amp;gt;",
		"<b>&lt;svg onload=alert(1)&gt;</b>",
	}
	for _, input := range inputs {
		got, err := s.SanitizeDisplayName(input)
		if err != nil {
			continue
		}
		if strings.ContainsAny(got, "<>") {
			t.Errorf("SanitizeDisplayName(%q) = %q, want no markup", input, got)
		}
	}
}

func TestSanitizeDisplayName_DeeplyEncodedMarkup_ReturnsError(t *testing.T) {
	s := NewProfileSanitizer()

	input := "<b>x</b>"
	for range maxUnescapeRounds + 1 {
		input = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(input)
	}
	_, err := s.SanitizeDisplayName(input)
	if !errors.Is(err, ErrDisplayNameMarkup) {
		t.Errorf("error = %v, want ErrDisplayNameMarkup", err)
	}
}

func TestProfileSanitizerInterface(t *testing.T) {
	var _ ProfileSanitizer = NewProfileSanitizer()
}
