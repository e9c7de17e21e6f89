package consts

const (
	// RequestId 请求id名称
	RequestId = "request_id"
	// RequestIdHeader 透传给客户端的请求头
	RequestIdHeader = "X-Request-Id"
)
