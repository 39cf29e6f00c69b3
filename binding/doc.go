// Copyright 2026 formulabar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package binding 把宿主记录转换为公式服务使用的参数与上下文字符串。

# 过滤规则

记录中以 "_" 开头、或包含 "@"、"." 的键属于元数据与导航属性
（例如 OData 注解 "name@OData.Community.Display.V1.FormattedValue"），
不会进入参数。FilterRecord 只做这一件事，BindParameters 在其上序列化。

# 上下文

ContextProvider 通过 RecordSource 拉取记录并生成上下文字符串。
缺少实体名或记录 id、或拉取失败时回退到 DefaultFormulaContext；
同一记录的并发请求合并为一次拉取，成功结果按 实体/id 缓存。
*/
package binding
