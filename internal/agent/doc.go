// Package agent 实现面向单个市场的交易 agent。
//
// 每个 agent 在执行循环中完成一次「快照 -> 预测 -> 错价分析 -> 下单」
// 的完整周期，并把订单写入流水、把周期结果发布给下游。交易约束
// （冷却时间、每日上限、活跃仓位）由 BaseAgent 统一维护。
package agent
