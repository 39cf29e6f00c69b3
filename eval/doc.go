// Package eval 调用公式服务的 eval 操作，对表达式求值。
package eval
