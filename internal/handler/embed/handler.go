package embed

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/embedchat/backend/internal/model/chat"
	"github.com/zhouzirui/embedchat/backend/internal/model/embed"
	"github.com/zhouzirui/embedchat/backend/internal/model/event"
	"github.com/zhouzirui/embedchat/backend/internal/service/turn"
	"github.com/zhouzirui/embedchat/backend/internal/store"
	"github.com/zhouzirui/embedchat/backend/pkg/utils"
)

// maxBodyBytes 限制单个请求体大小，消息本身另有校验。
const maxBodyBytes = 1 << 20

// Runner 执行一轮对话。
type Runner interface {
	Run(ctx context.Context, t turn.Turn, emit turn.Emitter) turn.Result
}

// Handler 嵌入式聊天组件的HTTP处理器
type Handler struct {
	runner   Runner
	history  store.HistoryStore
	embeds   embed.Store
	helpRule *embed.HelpRule
	upgrader websocket.Upgrader
}

// New 创建处理器；helpRule 是没有自定义规则的 embed 使用的默认规则，可为 nil。
func New(runner Runner, history store.HistoryStore, embeds embed.Store, helpRule *embed.HelpRule) *Handler {
	return &Handler{
		runner:   runner,
		history:  history,
		embeds:   embeds,
		helpRule: helpRule,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册嵌入式聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/embeds", h.handleListEmbeds)
	r.Route("/embed/{embedId}", func(r chi.Router) {
		r.Post("/stream-chat", h.handleStreamChat)
		r.Post("/chat", h.handleStreamChat)
		r.Get("/ws", h.handleWebSocket)
		r.Get("/user/{clientUserId}/chats", h.handleListChats)
		r.Get("/{sessionId}", h.handleGetHistory)
		r.Delete("/{sessionId}", h.handleDeleteHistory)
	})
}

// handleStreamChat 接收一轮对话并以SSE返回事件流
func (h *Handler) handleStreamChat(w http.ResponseWriter, r *http.Request) {
	embedID := chi.URLParam(r, "embedId")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	req, err := chat.ParseTurnRequest(body)
	if err != nil {
		respondParseError(w, err)
		return
	}

	fw, err := utils.NewFrameWriter(w)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	log.Printf("[embed] turn start embed=%s session=%s", embedID, req.SessionID)
	res := h.runner.Run(r.Context(), h.buildTurn(embedID, req), sseEmitter{fw: fw})
	log.Printf("[embed] turn done embed=%s session=%s outcome=%s", embedID, req.SessionID, res.Outcome)
}

// buildTurn 结合 embed 配置构造一轮对话
func (h *Handler) buildTurn(embedID string, req chat.TurnRequest) turn.Turn {
	profile := h.embeds.Resolve(embedID)

	override := ""
	if req.PromptOverride != nil {
		override = *req.PromptOverride
	}

	t := turn.Turn{
		EmbedID:      embedID,
		Request:      req,
		SystemPrompt: embed.BuildSystemPrompt(profile, override),
	}
	if rule := profile.Rule(h.helpRule); rule != nil {
		t.Rule = rule
	}
	return t
}

// profileView 是 embed 配置对外公开的部分，不包含系统提示词
type profileView struct {
	ID            string `json:"id"`
	AssistantName string `json:"assistantName"`
	Greeting      string `json:"greeting,omitempty"`
}

// handleListEmbeds 列出已配置的 embed
func (h *Handler) handleListEmbeds(w http.ResponseWriter, r *http.Request) {
	items := h.embeds.List()
	views := make([]profileView, 0, len(items))
	for _, item := range items {
		views = append(views, profileView{ID: item.ID, AssistantName: item.AssistantName, Greeting: item.Greeting})
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"embeds": views})
}

// handleGetHistory 返回会话历史
func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	history, err := h.history.LoadHistory(r.Context(), sessionID)
	if err != nil {
		log.Printf("[embed] load history failed session=%s: %v", sessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if history == nil {
		history = []chat.Message{}
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"history": history})
}

// handleDeleteHistory 删除会话历史，会话不存在时同样返回成功
func (h *Handler) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	if err := h.history.DeleteHistory(r.Context(), sessionID); err != nil {
		log.Printf("[embed] delete history failed session=%s: %v", sessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to delete history")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "sessionId": sessionID})
}

// handleListChats 列出某个访客的会话
func (h *Handler) handleListChats(w http.ResponseWriter, r *http.Request) {
	embedID := chi.URLParam(r, "embedId")
	clientUserID := chi.URLParam(r, "clientUserId")

	limit, err := queryInt(r, "limit")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	chats, err := h.history.ListSessions(r.Context(), embedID, clientUserID, limit, offset)
	if err != nil {
		log.Printf("[embed] list sessions failed user=%s: %v", clientUserID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	if chats == nil {
		chats = []chat.Summary{}
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// respondParseError 区分无法解析的请求体(400)与不符合约束的请求(422)
func respondParseError(w http.ResponseWriter, err error) {
	var verr *chat.ValidationError
	if errors.As(err, &verr) {
		utils.RespondErrorDetails(w, http.StatusUnprocessableEntity, "invalid chat request", verr.Fields)
		return
	}
	utils.RespondError(w, http.StatusBadRequest, err.Error())
}

// sseEmitter 把事件写成SSE帧
type sseEmitter struct {
	fw *utils.FrameWriter
}

func (e sseEmitter) Emit(_ context.Context, ev event.Event) error {
	return e.fw.WriteFrame(ev.Envelope())
}
