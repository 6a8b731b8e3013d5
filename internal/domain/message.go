package domain

import "time"

// DefaultSubject 发件人未提供主题时使用的默认值
const DefaultSubject = "No Subject"

// Message 表示投递到某个地址的一封邮件。
//
// 邮件可能比所属地址存活得更久，直到下一次过期清理。
type Message struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AddressValue string    `json:"email_address" gorm:"column:email_address;type:varchar(255);index;not null"`
	From         string    `json:"from" gorm:"column:from_address;type:varchar(255)"`
	Subject      string    `json:"subject" gorm:"type:varchar(998)"`
	PlainText    string    `json:"body" gorm:"column:body;type:text"`
	HTML         string    `json:"html_body" gorm:"column:html_body;type:text"`
	ReceivedAt   time.Time `json:"timestamp" gorm:"index;not null"`
	Read         bool      `json:"read" gorm:"column:is_read;default:false"`
}

// TableName 指定 gorm 表名
func (Message) TableName() string {
	return "inbox"
}
