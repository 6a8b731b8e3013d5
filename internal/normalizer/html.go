package normalizer

import (
	"regexp"
	"strings"
)

var (
	styleBlockRe   = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	scriptBlockRe  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	lineBreakRe    = regexp.MustCompile(`(?i)<br\s*/?>`)
	paragraphEndRe = regexp.MustCompile(`(?i)</p>`)
	anyTagRe       = regexp.MustCompile(`<[^>]+>`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
)

// 实体解码顺序固定，&amp; 放最后避免二次解码
var entityReplacements = [][2]string{
	{"&nbsp;", " "},
	{"&lt;", "<"},
	{"&gt;", ">"},
	{"&amp;", "&"},
	{"&quot;", `"`},
}

// StripHTML 从 HTML 正文提取单行纯文本
//
// 去掉 style/script 块，换行和段落标签先转为换行，其余标签替换为空格，
// 解码常见实体后把所有空白折叠为一个空格。
func StripHTML(html string) string {
	text := styleBlockRe.ReplaceAllString(html, "")
	text = scriptBlockRe.ReplaceAllString(text, "")
	text = lineBreakRe.ReplaceAllString(text, "\n")
	text = paragraphEndRe.ReplaceAllString(text, "\n\n")
	text = anyTagRe.ReplaceAllString(text, " ")

	for _, r := range entityReplacements {
		text = strings.ReplaceAll(text, r[0], r[1])
	}

	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
