// Package mimeparse 用 go-message 从原始 RFC 5322 邮件中提取主题、发件人和正文部分。
package mimeparse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // 注册 GBK、ISO-8859-x 等字符集
	gomail "github.com/emersion/go-message/mail"

	"tempinbox/backend/internal/normalizer"
)

// 单个正文部分最多读取的字节数
const maxPartBytes = 5 << 20

// Parsed 表示解析后的邮件
type Parsed struct {
	Subject string
	From    string
	To      string
	Text    string
	HTML    string
}

// Parse 解析原始邮件，附件部分被忽略
//
// 字符集未知时 go-message 仍会返回可用的 reader，这种情况不视为错误。
func Parse(raw []byte) (*Parsed, error) {
	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse mail: %w", err)
	}
	defer reader.Close()

	parsed := &Parsed{
		Subject: subjectOf(reader.Header),
		From:    firstAddress(reader.Header, "From"),
		To:      firstAddress(reader.Header, "To"),
	}

	for {
		part, perr := reader.NextPart()
		if errors.Is(perr, io.EOF) {
			break
		}
		if perr != nil {
			if message.IsUnknownCharset(perr) || message.IsUnknownEncoding(perr) {
				continue
			}
			return parsed, fmt.Errorf("read part: %w", perr)
		}

		inline, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}

		mediaType, _, cerr := inline.ContentType()
		if cerr != nil || mediaType == "" {
			mediaType = "text/plain"
		}
		mediaType = strings.ToLower(mediaType)

		switch {
		case mediaType == "text/html" && parsed.HTML == "":
			parsed.HTML = readPart(part.Body)
		case mediaType == "text/plain" && parsed.Text == "":
			parsed.Text = readPart(part.Body)
		}
	}

	return parsed, nil
}

// RawMessage 转换为规范化器的输入，没有可用正文部分时退回原始流
func (p *Parsed) RawMessage(raw []byte) normalizer.RawMessage {
	if p == nil || (strings.TrimSpace(p.HTML) == "" && strings.TrimSpace(p.Text) == "") {
		return normalizer.RawMessage{Raw: bytes.NewReader(raw)}
	}
	return normalizer.RawMessage{HTML: p.HTML, Text: p.Text}
}

func readPart(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxPartBytes))
	if err != nil && len(body) == 0 {
		return ""
	}
	return string(body)
}

func subjectOf(h gomail.Header) string {
	subject, err := h.Subject()
	if err != nil {
		return h.Get("Subject")
	}
	return subject
}

func firstAddress(h gomail.Header, key string) string {
	list, err := h.AddressList(key)
	if err == nil && len(list) > 0 {
		return list[0].Address
	}
	return strings.TrimSpace(h.Get(key))
}
