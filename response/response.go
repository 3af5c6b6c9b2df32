package response

// Response 统一响应结构
type Response struct {
	Code int         `json:"code"`           // 业务状态码
	Msg  string      `json:"msg"`            // 提示消息
	Data interface{} `json:"data,omitempty"` // 响应数据
}

// 业务状态码定义
// 使用说明：
// - 传输层错误：使用 HTTP 状态码（400/500）
// - 业务层：HTTP 200 + 业务状态码（客户端按 code 分类处理）
const (
	CodeSuccess         = 0     // 成功
	CodeParamError      = 10001 // 参数错误
	CodeSessionNotFound = 10002 // 在线会话不存在/已结束（心跳应触发自愈重建）
	CodeInternalError   = 99999 // 内部错误
)

// Success 成功响应
func Success(data interface{}, args ...string) *Response {
	msg := "success"
	for _, arg := range args {
		msg = arg
	}
	return &Response{
		Code: CodeSuccess,
		Msg:  msg,
		Data: data,
	}
}

// Error 错误响应
func Error(code int, msg string) *Response {
	return &Response{
		Code: code,
		Msg:  msg,
	}
}
