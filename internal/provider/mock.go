package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// errCodeInvalidCode はjscode2sessionがコード不正時に返すerrcode。
const errCodeInvalidCode = 40029

// MockJSCode2SessionHandler はjscode2sessionを模倣するハンドラー。
// js_codeからmock_openid_<code>を生成して返す。ローカル開発でWeChatProviderの接続先として使う。
func MockJSCode2SessionHandler(now func() time.Time) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("js_code")
		appID := r.URL.Query().Get("appid")

		w.Header().Set("Content-Type", "application/json; charset=utf-8")

		if code == "" || appID == "" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(jsCode2SessionResponse{
				ErrCode: errCodeInvalidCode,
				ErrMsg:  "invalid code or appid",
			})
			return
		}

		json.NewEncoder(w).Encode(jsCode2SessionResponse{
			OpenID:     "mock_openid_" + code,
			SessionKey: fmt.Sprintf("mock_session_key_%d", now().UnixMilli()),
			UnionID:    "mock_unionid_" + code,
		})
	}
}
