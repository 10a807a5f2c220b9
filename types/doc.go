// Package types 定义 AnswerFlow 管线各阶段共享的核心数据模型：
// 查询计划（QueryPlan）、检索证据（RetrievedItem / RankedItem）、
// 合成结果（SynthesisResult / Citation）以及统一错误类型。
//
// 管线内的数据流向是单向的：
//
//	QueryPlan → []RetrievedItem → []RankedItem → SynthesisResult
//
// 所有类型在创建后不可变（除 SynthesisResult 可被验证闸门改写），
// 因此可以安全地在 goroutine 之间传递。
package types
