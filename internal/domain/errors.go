package domain

import "errors"

var (
	// ErrDuplicateKey 地址值已存在，生成器会换一个 token 重试
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNotFound 地址不存在或已过期
	ErrNotFound = errors.New("not found")
	// ErrMalformedInput 请求参数缺失或格式错误
	ErrMalformedInput = errors.New("malformed input")
	// ErrGenerationExhausted 重试次数用尽仍未生成唯一地址
	ErrGenerationExhausted = errors.New("address generation exhausted")
)
