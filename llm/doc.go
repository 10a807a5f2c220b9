// Package llm 提供文本生成服务的统一接入层：
//
//   - TextProvider：补全/流式补全/嵌入的最小接口，管线各阶段只依赖该接口；
//   - Limiter：进程级共享限流器（请求数 + token 数双桶），所有并发调用
//     同一上游端点时共用，进程存活期间不销毁；
//   - BackoffRetryer：指数退避 + 抖动的重试器，用于限流与瞬时故障；
//   - ClientPool：按租户/工作区键控的客户端句柄池，带空闲回收与 LRU 上限。
package llm
