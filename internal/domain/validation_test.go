package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"已规范的地址", "abc@ainewmail.online", "abc@ainewmail.online"},
		{"大写转小写", "ABC@AiNewMail.Online", "abc@ainewmail.online"},
		{"去掉尖括号", "<abc@ainewmail.online>", "abc@ainewmail.online"},
		{"去掉空白和尖括号", "  < Abc@ainewmail.online >  ", "abc@ainewmail.online"},
		{"空字符串", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeAddress(tt.input))
		})
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"有效地址", "k3j9x0q2ab@ainewmail.online", false},
		{"空地址", "", true},
		{"缺少@", "ainewmail.online", true},
		{"缺少本地部分", "@ainewmail.online", true},
		{"缺少域名", "abc@", true},
		{"多个@", "a@b@ainewmail.online", true},
		{"包含空格", "a b@ainewmail.online", true},
		{"本地部分过长", strings.Repeat("a", 65) + "@ainewmail.online", true},
		{"整体过长", "a@" + strings.Repeat("b", 260), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.value)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrMalformedInput))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHasDomain(t *testing.T) {
	assert.True(t, HasDomain("abc@ainewmail.online", "ainewmail.online"))
	assert.True(t, HasDomain("<ABC@AINEWMAIL.ONLINE>", "AiNewMail.online"))
	assert.False(t, HasDomain("abc@example.com", "ainewmail.online"))
	assert.False(t, HasDomain("ainewmail.online", "ainewmail.online"))
}

func TestAddressLiveness(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	addr := &Address{Value: "abc@ainewmail.online", CreatedAt: now, ExpiresAt: now.Add(DefaultTTL)}

	t.Run("过期前有效", func(t *testing.T) {
		assert.True(t, addr.IsLive(now.Add(59*time.Minute)))
		assert.Equal(t, time.Minute, addr.Remaining(now.Add(59*time.Minute)))
	})

	t.Run("到达过期时刻即失效", func(t *testing.T) {
		assert.False(t, addr.IsLive(now.Add(DefaultTTL)))
		assert.Zero(t, addr.Remaining(now.Add(DefaultTTL)))
	})
}
