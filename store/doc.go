// Package store 定义管线消费的三个外部协作方接口及其默认实现：
//
//   - VectorStore：向量相似度检索（Qdrant REST 实现）；
//   - GraphStore：属性图的参数化声明式查询（Neo4j 实现），
//     遍历深度边界由调用方通过查询构造保证；
//   - ConversationStore：会话近 N 轮的只读访问（Redis 实现）。
//
// 索引构建、图 schema 设计均不在本包职责内；这里只做查询。
package store
