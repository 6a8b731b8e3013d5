package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tempinbox/backend/internal/domain"
)

// AddressGenerator 生成新地址
type AddressGenerator interface {
	Generate(ctx context.Context) (*domain.Address, error)
}

// InboxReader 收件箱读写操作
type InboxReader interface {
	List(ctx context.Context, address string) ([]domain.Message, error)
	MarkRead(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// MessageSimulator 向有效地址投递演示邮件
type MessageSimulator interface {
	Receive(ctx context.Context, to string) (*domain.Message, error)
}

// InboxHandler 收件箱 API 处理器
type InboxHandler struct {
	generator AddressGenerator
	inbox     InboxReader
	simulator MessageSimulator
	now       func() time.Time
}

// NewInboxHandler 创建收件箱处理器，simulator 为 nil 时不注册模拟接口
func NewInboxHandler(generator AddressGenerator, inbox InboxReader, simulator MessageSimulator) *InboxHandler {
	return &InboxHandler{
		generator: generator,
		inbox:     inbox,
		simulator: simulator,
		now:       time.Now,
	}
}

type simulateRequest struct {
	To string `json:"to"`
}

// Generate 生成临时邮箱
// @Summary 生成临时邮箱
// @Description 创建一个随机地址，有效期默认 1 小时
// @Tags Inbox
// @Produce json
// @Success 200 {object} generateResponse
// @Failure 429 {object} errorResponse
// @Failure 500 {object} errorResponse
// @Router /api/generate [post]
func (h *InboxHandler) Generate(c *gin.Context) {
	addr, err := h.generator.Generate(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, generateResponse{
		Email:     addr.Value,
		ExpiresIn: addr.Remaining(h.now()).Milliseconds(),
	})
}

// GetInbox 获取收件箱
// @Summary 获取收件箱
// @Description 按接收时间倒序返回地址下的全部邮件
// @Tags Inbox
// @Produce json
// @Param email path string true "邮箱地址"
// @Success 200 {object} inboxResponse
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 500 {object} errorResponse
// @Router /api/inbox/{email} [get]
func (h *InboxHandler) GetInbox(c *gin.Context) {
	messages, err := h.inbox.List(c.Request.Context(), c.Param("email"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, inboxResponse{Emails: toMessageResponses(messages)})
}

// MarkRead 标记已读
// @Summary 标记已读
// @Description 幂等，未知 id 同样返回成功
// @Tags Inbox
// @Produce json
// @Param address path string true "邮箱地址（不参与校验）"
// @Param id path string true "邮件ID"
// @Success 200 {object} successResponse
// @Router /api/email/{address}/{id}/read [put]
func (h *InboxHandler) MarkRead(c *gin.Context) {
	if err := h.inbox.MarkRead(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	ok(c)
}

// Delete 删除邮件
// @Summary 删除邮件
// @Description 幂等，未知 id 同样返回成功
// @Tags Inbox
// @Produce json
// @Param id path string true "邮件ID"
// @Success 200 {object} successResponse
// @Router /api/delete/{id} [delete]
func (h *InboxHandler) Delete(c *gin.Context) {
	if err := h.inbox.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	ok(c)
}

// Simulate 模拟收信
// @Summary 模拟收信
// @Description 向有效地址投递一封随机演示邮件
// @Tags Inbox
// @Accept json
// @Produce json
// @Param request body simulateRequest true "收件地址"
// @Success 200 {object} messageResponse
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /api/simulate-receive [post]
func (h *InboxHandler) Simulate(c *gin.Context) {
	var req simulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: MsgInvalidRequest, Message: err.Error()})
		return
	}

	message, err := h.simulator.Receive(c.Request.Context(), req.To)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toMessageResponse(*message))
}
