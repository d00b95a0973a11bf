package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/miniauth/internal/middleware"
	"github.com/hitoshi/miniauth/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの最大サイズ。
const maxRequestBodySize = 64 << 10

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをvにデコードする。
// 空ボディ・不正なJSON・サイズ超過はVALIDATION_ERRORとして返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewValidationError("リクエストボディが空です。")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return model.NewValidationError("リクエストボディが大きすぎます。")
		}
		return model.NewValidationError("リクエストボディのJSONが不正です。")
	}
	return nil
}

// handleServiceError はサービス層のエラーを統一フォーマットのレスポンスに変換する。
// 内部エラーの原因はログのみに記録する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		apiErr = model.NewInternalError(err)
	}

	if apiErr.Code == model.ErrCodeInternal {
		attrs := []any{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		}
		if cause := errors.Unwrap(apiErr); cause != nil {
			attrs = append(attrs, slog.String("error", cause.Error()))
		}
		slog.Error("internal server error", attrs...)
	}

	middleware.WriteAPIError(w, apiErr)
}
