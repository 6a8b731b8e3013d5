package domain

import "time"

// DefaultTTL 地址默认生存时间（3,600,000 毫秒）
const DefaultTTL = time.Hour

// Address 表示一个一次性收件地址。
//
// Value 全局唯一，格式为 "<token>@<domain>"；ExpiresAt = CreatedAt + TTL。
type Address struct {
	Value     string    `json:"email" gorm:"primaryKey;type:varchar(255)"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
	ExpiresAt time.Time `json:"expiresAt" gorm:"not null;index"`
}

// TableName 指定 gorm 表名
func (Address) TableName() string {
	return "addresses"
}

// IsLive 判断地址在 now 时刻是否仍然有效，ExpiresAt 等于 now 视为已过期
func (a *Address) IsLive(now time.Time) bool {
	return a.ExpiresAt.After(now)
}

// Remaining 返回距离过期的剩余时间，已过期返回 0
func (a *Address) Remaining(now time.Time) time.Duration {
	if !a.IsLive(now) {
		return 0
	}
	return a.ExpiresAt.Sub(now)
}
