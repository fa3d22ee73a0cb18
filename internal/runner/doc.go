// Package runner 实现智能体执行调度器：为每个市场智能体维护一个
// 独立的周期性执行循环，提供节奏控制、指数退避、熔断保护、资源监控
// 与优雅停机。
package runner
