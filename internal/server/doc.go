/*
包 server 管理 ALCS 的 HTTP 监听器生命周期：API 端口与 Prometheus /metrics 端口
各由一个 Manager 负责。

Run 适合放进 errgroup：ctx 取消时在 ShutdownTimeout 内排空请求，
服务异常退出时返回错误使整个进程停止。信号处理由 cmd 通过
signal.NotifyContext 完成。
*/
package server
