// Package api 暴露钱包托管服务的 REST 接口：动作提交、审批回调与
// 运维查询。接口层只做解码、路由与错误码到 HTTP 状态码的映射，业务
// 语义全部在网关层。
package api
