// Package tests 引擎的集成测试, 只通过 workflow 包导出的接口操作
//
// 每个测试使用独立的 sqlite 内存库:
//
//	go test ./internal/tests/...
package tests
