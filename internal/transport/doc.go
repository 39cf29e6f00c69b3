/*
Package transport 提供无状态的 HTTP 往返适配器。

每次 Send 调用对应一次 POST：请求体是调用方已经序列化好的字符串，
适配器从不解析；非 2xx 状态码或网络错误统一转换为 TRANSPORT 错误，
适配器本身不做重试，重试策略属于调用方。

HTTPTransport 可被并发调用。可选能力：客户端限流（golang.org/x/time/rate）、
OpenTelemetry 客户端 span 与往返时长直方图、往返指标观察者。
会话通过 internal/ctxkeys 放入 ctx 的方法名、请求 id 与文档 URI
会成为 span 属性和日志字段。
*/
package transport
