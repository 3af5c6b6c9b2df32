package sync_sdk

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cydxin/sync-sdk/response"
	"github.com/cydxin/sync-sdk/service"
	"github.com/gin-gonic/gin"
)

// -------------------- 同步事件（Sync）相关接口 --------------------

// GinHandleListScopeEvents 全量拉取 scope 事件
// 客户端游标为空（首次打开 scope）时调用，返回最新 limit 条（升序）。
func (c *SyncEngine) GinHandleListScopeEvents(ctx *gin.Context) {
	scopeID := ctx.Query("scope_id")
	if scopeID == "" {
		ctx.JSON(http.StatusBadRequest, response.Error(response.CodeParamError, "scope_id is required"))
		return
	}
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "200"))

	items, err := c.EventService.ListScopeEvents(ctx.Request.Context(), scopeID, limit)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, response.Error(response.CodeInternalError, err.Error()))
		return
	}

	ctx.JSON(http.StatusOK, response.Success(map[string]any{
		"items": items,
	}))
}

// GinHandleListScopeEventsSince 增量拉取：严格晚于 since 的事件
// since 取客户端 EventStore 的游标（最新一条的 created_at，RFC3339Nano）。
func (c *SyncEngine) GinHandleListScopeEventsSince(ctx *gin.Context) {
	scopeID := ctx.Query("scope_id")
	if scopeID == "" {
		ctx.JSON(http.StatusBadRequest, response.Error(response.CodeParamError, "scope_id is required"))
		return
	}
	since, err := time.Parse(time.RFC3339Nano, ctx.Query("since"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, response.Error(response.CodeParamError, "invalid since"))
		return
	}
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "200"))

	items, err := c.EventService.ListScopeEventsSince(ctx.Request.Context(), scopeID, since, limit)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, response.Error(response.CodeInternalError, err.Error()))
		return
	}

	ctx.JSON(http.StatusOK, response.Success(map[string]any{
		"items": items,
	}))
}

// GinHandleCountScopeEvents 未读数：scope 内晚于 since 的事件条数
func (c *SyncEngine) GinHandleCountScopeEvents(ctx *gin.Context) {
	scopeID := ctx.Query("scope_id")
	if scopeID == "" {
		ctx.JSON(http.StatusBadRequest, response.Error(response.CodeParamError, "scope_id is required"))
		return
	}
	since, err := time.Parse(time.RFC3339Nano, ctx.Query("since"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, response.Error(response.CodeParamError, "invalid since"))
		return
	}

	n, err := c.EventService.CountScopeEventsSince(ctx.Request.Context(), scopeID, since)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, response.Error(response.CodeInternalError, err.Error()))
		return
	}

	ctx.JSON(http.StatusOK, response.Success(map[string]any{
		"count": n,
	}))
}

type PublishEventReq struct {
	ScopeID string         `json:"scope_id" binding:"required"`
	Kind    string         `json:"kind" binding:"required"`
	Payload map[string]any `json:"payload"`
}

// GinHandlePublishEvent 写入一条事件（落库 + 尽力推送）。
// 业务后端发消息/发通知都走这里。
func (c *SyncEngine) GinHandlePublishEvent(ctx *gin.Context) {
	var req PublishEventReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, response.Error(response.CodeParamError, err.Error()))
		return
	}

	var payload []byte
	if req.Payload != nil {
		b, err := json.Marshal(req.Payload)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, response.Error(response.CodeParamError, err.Error()))
			return
		}
		payload = b
	}

	evt, err := c.EventService.PublishEvent(ctx.Request.Context(), req.ScopeID, req.Kind, payload)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, response.Error(response.CodeInternalError, err.Error()))
		return
	}

	ctx.JSON(http.StatusOK, response.Success(evt))
}

// -------------------- 在线会话（Presence）相关接口 --------------------

type PresenceStartReq struct {
	UserID     uint64 `json:"user_id"`
	DeviceInfo string `json:"device_info"`
}

// GinHandlePresenceStart 新建在线会话，签发 session_id
func (c *SyncEngine) GinHandlePresenceStart(ctx *gin.Context) {
	var req PresenceStartReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, response.Error(response.CodeParamError, err.Error()))
		return
	}

	sid, err := c.PresenceService.StartSession(ctx.Request.Context(), req.UserID, req.DeviceInfo)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, response.Error(response.CodeInternalError, err.Error()))
		return
	}

	ctx.JSON(http.StatusOK, response.Success(map[string]any{
		"session_id": sid,
	}))
}

type PresenceSessionReq struct {
	SessionID string `json:"session_id" binding:"required"`
}

// GinHandlePresenceHeartbeat 心跳
// 会话不存在返回业务码 CodeSessionNotFound（HTTP 200），客户端据此自愈重建。
func (c *SyncEngine) GinHandlePresenceHeartbeat(ctx *gin.Context) {
	var req PresenceSessionReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, response.Error(response.CodeParamError, err.Error()))
		return
	}

	err := c.PresenceService.Heartbeat(ctx.Request.Context(), req.SessionID)
	if errors.Is(err, service.ErrSessionNotFound) {
		ctx.JSON(http.StatusOK, response.Error(response.CodeSessionNotFound, "session not found"))
		return
	}
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, response.Error(response.CodeInternalError, err.Error()))
		return
	}

	ctx.JSON(http.StatusOK, response.Success(nil))
}

// GinHandlePresenceEnd 结束会话（发后不理契约：总是 200，幂等）
func (c *SyncEngine) GinHandlePresenceEnd(ctx *gin.Context) {
	var req PresenceSessionReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, response.Error(response.CodeParamError, err.Error()))
		return
	}

	_ = c.PresenceService.EndSession(ctx.Request.Context(), req.SessionID)
	ctx.JSON(http.StatusOK, response.Success(nil))
}

// RegisterRoutes 挂载全部同步路由。
// 也可以不用它，拿着 handler 自己组路由（更灵活）。
func (c *SyncEngine) RegisterRoutes(api *gin.RouterGroup) {
	syncAPI := api.Group("/sync")
	{
		syncAPI.GET("/events", c.GinHandleListScopeEvents)
		syncAPI.GET("/events/since", c.GinHandleListScopeEventsSince)
		syncAPI.GET("/events/count", c.GinHandleCountScopeEvents)
		syncAPI.POST("/events", c.GinHandlePublishEvent)
	}

	presenceAPI := api.Group("/presence")
	{
		presenceAPI.POST("/start", c.GinHandlePresenceStart)
		presenceAPI.POST("/heartbeat", c.GinHandlePresenceHeartbeat)
		presenceAPI.POST("/end", c.GinHandlePresenceEnd)
	}
}
