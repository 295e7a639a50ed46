/*
Package testutil 提供编排器与 HTTP 层测试共用的辅助函数。

  - TestContext：30 秒超时并自动 Cleanup
  - AssertSessionValid：会话结构不变量
  - AssertEventuallyTrue / AssertEventuallyEqual / WaitForChannel：异步任务断言
  - MustJSON / MustParseJSON：请求体与响应解析

子包 mocks 提供可脚本化的 MockProvider（探测请求不消耗脚本），
fixtures 提供生成器代码与评审 JSON 样例：

	alpha := mocks.NewMockProvider().WithReplies(fixtures.CodeVersion(1))
	beta := mocks.NewMockProvider().WithReplies(fixtures.Critiques(90)...)
*/
package testutil
