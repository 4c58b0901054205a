package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/embedchat/backend/pkg/utils"
)

// WebSocketKeyParam 是 WebSocket 握手时携带 API Key 的查询参数，浏览器无法在握手中设置 Authorization。
const WebSocketKeyParam = "api_key"

// APIKeyAuth 校验 Bearer API Key；keys 为空时直接放行。
func APIKeyAuth(keys []string) func(http.Handler) http.Handler {
	allowed := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			allowed = append(allowed, []byte(k))
		}
	}

	return func(next http.Handler) http.Handler {
		if len(allowed) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok && websocket.IsWebSocketUpgrade(r) {
				token = strings.TrimSpace(r.URL.Query().Get(WebSocketKeyParam))
				ok = token != ""
			}
			if !ok {
				utils.RespondError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			for _, key := range allowed {
				if subtle.ConstantTimeCompare([]byte(token), key) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			utils.RespondError(w, http.StatusUnauthorized, "invalid api key")
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
