package normalizer

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const rawChunkSize = 32 * 1024

var (
	// 行首匹配、区分大小写的头部残留和服务商噪声行
	noiseLineRe = regexp.MustCompile(`(?m)^(?:` +
		`Received:|ARC-|DKIM-|Authentication-Results:|X-|` +
		`Content-Type:|Content-Transfer-Encoding:|MIME-Version:|` +
		`[ \t]*from.*outbound-mail\.sendgrid\.net|` +
		`[ \t]*by cloudflare|` +
		`[ \t]*for` +
		`).*$`)
	excessBlankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// readRaw 分块读取原始流，按 UTF-8 增量解码，非法字节替换为 U+FFFD
func (h *HeuristicNormalizer) readRaw(r io.Reader) (string, error) {
	decoded := transform.NewReader(io.LimitReader(r, h.maxRawBytes), unicode.UTF8.NewDecoder())

	var sb strings.Builder
	buf := make([]byte, rawChunkSize)
	for {
		n, err := decoded.Read(buf)
		sb.Write(buf[:n])
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("read raw message: %w", err)
		}
	}
}

// ExtractRawBody 从完整原始邮件中提取正文
//
// 以第一个空行分隔头部和正文，没有空行时正文为空。
// 正文中残留的头部行被清空，连续三个以上换行折叠为两个，超长时截断并追加标记。
func ExtractRawBody(raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")

	idx := strings.Index(raw, "\n\n")
	if idx < 0 {
		return ""
	}

	body := noiseLineRe.ReplaceAllString(raw[idx+2:], "")
	body = strings.TrimSpace(body)
	body = excessBlankLinesRe.ReplaceAllString(body, "\n\n")
	return truncate(body, MaxPlainTextRunes)
}

func truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}

	count := 0
	for i := range text {
		if count == limit {
			return text[:i] + TruncationMarker
		}
		count++
	}
	return text
}
