package domain

import (
	"fmt"
	"strings"
)

// RFC 5321 长度限制
const (
	MaxAddressLength   = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253
)

// NormalizeAddress 统一地址格式：去掉首尾空白和尖括号，转为小写
//
// 例如 " <ABC123@Example.com> " -> "abc123@example.com"
func NormalizeAddress(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "<")
	value = strings.TrimSuffix(value, ">")
	return strings.ToLower(strings.TrimSpace(value))
}

// SplitAddress 拆分本地部分和域名
func SplitAddress(value string) (local, domain string, ok bool) {
	at := strings.LastIndex(value, "@")
	if at <= 0 || at == len(value)-1 {
		return "", "", false
	}
	return value[:at], value[at+1:], true
}

// ValidateAddress 校验规范化后的地址，失败时返回包装了 ErrMalformedInput 的错误
func ValidateAddress(value string) error {
	if value == "" {
		return fmt.Errorf("%w: address is required", ErrMalformedInput)
	}
	if len(value) > MaxAddressLength {
		return fmt.Errorf("%w: address too long", ErrMalformedInput)
	}

	local, domain, ok := SplitAddress(value)
	if !ok || strings.Count(value, "@") != 1 {
		return fmt.Errorf("%w: invalid address %q", ErrMalformedInput, value)
	}
	if len(local) > MaxLocalPartLength {
		return fmt.Errorf("%w: local part too long", ErrMalformedInput)
	}
	if len(domain) > MaxDomainLength || strings.ContainsAny(value, " \t\r\n") {
		return fmt.Errorf("%w: invalid address %q", ErrMalformedInput, value)
	}
	return nil
}

// HasDomain 判断地址是否属于给定域名（不区分大小写）
func HasDomain(value, domain string) bool {
	_, d, ok := SplitAddress(NormalizeAddress(value))
	return ok && d == strings.ToLower(domain)
}
