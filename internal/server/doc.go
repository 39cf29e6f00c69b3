// 版权所有 2024 formulabar Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 CLI 附带的指标 HTTP 服务生命周期。

# 核心类型

  - Manager：封装 net/http.Server，提供非阻塞 Start、
    优雅 Shutdown 与异步错误通道。
  - Handler：/metrics（Prometheus 默认注册表）与 /healthz 路由。
*/
package server
