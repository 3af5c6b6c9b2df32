package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cydxin/sync-sdk/models"
	"github.com/cydxin/sync-sdk/response"
)

// ErrEndpointDegraded 增量拉取端点服务端出错。
// 调用方（Poller）收到后本轮降级为全量拉取。
var ErrEndpointDegraded = errors.New("incremental fetch endpoint degraded")

// ErrSessionNotFound 在线会话已失效（服务端过期/被清扫）。
// 调用方（HeartbeatTracker）收到后走自愈路径重建会话。
var ErrSessionNotFound = errors.New("presence session not found")

// Remote 远端权威的抽象。轮询和心跳只依赖这组接口，测试里用假实现替换。
type Remote interface {
	// FetchFull 全量拉取 scope 内最新一批事件（升序）。
	FetchFull(ctx context.Context, scopeID string) ([]models.Event, error)
	// FetchSince 增量拉取严格晚于 since 的事件（升序）。
	// 服务端 5xx 返回 ErrEndpointDegraded。
	FetchSince(ctx context.Context, scopeID string, since time.Time) ([]models.Event, error)
	// SessionStart 新建在线会话，返回 session_id。
	SessionStart(ctx context.Context, deviceInfo string) (string, error)
	// SessionHeartbeat 发送心跳。会话失效返回 ErrSessionNotFound。
	SessionHeartbeat(ctx context.Context, sessionID string) error
	// SessionEnd 结束会话：发后不理，不等响应、不返回错误。
	// 投递不保证送达，服务端心跳超时是最终兜底。
	SessionEnd(sessionID string)
}

// HTTPRemote 按参考服务端路由实现 Remote。
type HTTPRemote struct {
	baseURL string
	httpc   *http.Client
}

func NewHTTPRemote(baseURL string) *HTTPRemote {
	return &HTTPRemote{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

type listEventsData struct {
	Items []models.Event `json:"items"`
}

type sessionData struct {
	SessionID string `json:"session_id"`
}

// apiEnvelope 服务端统一响应；Data 延迟解码。
type apiEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (r *HTTPRemote) getJSON(ctx context.Context, path string, query url.Values, out any) (int, error) {
	u := r.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	return r.do(req, out)
}

func (r *HTTPRemote) postJSON(ctx context.Context, path string, body any, out any) (int, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return r.do(req, out)
}

// do 返回业务 code。HTTP 5xx 返回 httpStatusError；业务失败不在这里判定。
func (r *HTTPRemote) do(req *http.Request, out any) (int, error) {
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, &httpStatusError{status: resp.StatusCode}
	}

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return 0, err
	}
	if env.Code == response.CodeSuccess && out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return env.Code, err
		}
	}
	return env.Code, nil
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("server returned status %d", e.status)
}

func (r *HTTPRemote) FetchFull(ctx context.Context, scopeID string) ([]models.Event, error) {
	q := url.Values{"scope_id": {scopeID}}
	var data listEventsData
	code, err := r.getJSON(ctx, "/api/v1/sync/events", q, &data)
	if err != nil {
		return nil, err
	}
	if code != response.CodeSuccess {
		return nil, fmt.Errorf("fetch full failed: code %d", code)
	}
	return data.Items, nil
}

func (r *HTTPRemote) FetchSince(ctx context.Context, scopeID string, since time.Time) ([]models.Event, error) {
	q := url.Values{
		"scope_id": {scopeID},
		"since":    {since.Format(time.RFC3339Nano)},
	}
	var data listEventsData
	code, err := r.getJSON(ctx, "/api/v1/sync/events/since", q, &data)
	if err != nil {
		var se *httpStatusError
		if errors.As(err, &se) {
			// 服务端挂了增量端点，调用方降级全量
			return nil, ErrEndpointDegraded
		}
		return nil, err
	}
	if code != response.CodeSuccess {
		return nil, ErrEndpointDegraded
	}
	return data.Items, nil
}

func (r *HTTPRemote) SessionStart(ctx context.Context, deviceInfo string) (string, error) {
	var data sessionData
	code, err := r.postJSON(ctx, "/api/v1/presence/start", map[string]string{"device_info": deviceInfo}, &data)
	if err != nil {
		return "", err
	}
	if code != response.CodeSuccess || data.SessionID == "" {
		return "", fmt.Errorf("session start failed: code %d", code)
	}
	return data.SessionID, nil
}

func (r *HTTPRemote) SessionHeartbeat(ctx context.Context, sessionID string) error {
	code, err := r.postJSON(ctx, "/api/v1/presence/heartbeat", map[string]string{"session_id": sessionID}, nil)
	if err != nil {
		return err
	}
	switch code {
	case response.CodeSuccess:
		return nil
	case response.CodeSessionNotFound:
		return ErrSessionNotFound
	default:
		return fmt.Errorf("heartbeat failed: code %d", code)
	}
}

func (r *HTTPRemote) SessionEnd(sessionID string) {
	if sessionID == "" {
		return
	}
	// 发后不理：独立短超时，不阻塞调用方（页面卸载路径）
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, _ = r.postJSON(ctx, "/api/v1/presence/end", map[string]string{"session_id": sessionID}, nil)
	}()
}
