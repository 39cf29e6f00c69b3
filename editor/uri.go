package editor

import "net/url"

// FormulaColumnsURI 构造公式列文档的 URI
func FormulaColumnsURI(entity string) string {
	return "powerfx://formula_columns?entityLogicalName=" + url.QueryEscape(entity) +
		"&getExpressionType=true&localeName=en-US&getTokensFlags=1"
}
