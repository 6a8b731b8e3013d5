package httptransport

import (
	"github.com/gin-gonic/gin"

	"tempinbox/backend/internal/domain"
)

type generateResponse struct {
	Email     string `json:"email"`
	ExpiresIn int64  `json:"expiresIn"` // 剩余有效期（毫秒）
}

type inboxResponse struct {
	Emails []messageResponse `json:"emails"`
}

type messageResponse struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
	From         string `json:"from"`
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	HTMLBody     string `json:"html_body"`
	Timestamp    int64  `json:"timestamp"` // 毫秒
	Read         int    `json:"read"`      // 0 未读，1 已读
}

type successResponse struct {
	Success bool `json:"success"`
}

func toMessageResponse(m domain.Message) messageResponse {
	read := 0
	if m.Read {
		read = 1
	}
	return messageResponse{
		ID:           m.ID,
		EmailAddress: m.AddressValue,
		From:         m.From,
		Subject:      m.Subject,
		Body:         m.PlainText,
		HTMLBody:     m.HTML,
		Timestamp:    m.ReceivedAt.UnixMilli(),
		Read:         read,
	}
}

func toMessageResponses(messages []domain.Message) []messageResponse {
	out := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, toMessageResponse(m))
	}
	return out
}

func ok(c *gin.Context) {
	c.JSON(200, successResponse{Success: true})
}
