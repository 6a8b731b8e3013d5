package service

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/normalizer"
)

var (
	demoSubjects = []string{
		"Welcome to Our Service!",
		"Verify Your Email Address",
		"Your Verification Code",
		"Account Confirmation Required",
		"Complete Your Registration",
	}
	demoBodies = []string{
		"Thank you for signing up! Please verify your email address by clicking the link below.",
		"Your verification code is: 123456. This code will expire in 10 minutes.",
		"Welcome! To complete your registration, please confirm your email address.",
		"Your account has been created successfully. Click here to get started.",
		"Please verify your email to activate your account and access all features.",
	}
	demoSenders = []string{"example.com", "service.com", "app.io", "platform.net"}
)

// Simulator 为有效地址生成一封演示邮件，方便前端在没有真实投递时调试
type Simulator struct {
	store    domain.Store
	ingestor *Ingestor
	now      func() time.Time
	pick     func(n int) int
}

// NewSimulator 创建模拟收信器
func NewSimulator(store domain.Store, ingestor *Ingestor) *Simulator {
	return &Simulator{
		store:    store,
		ingestor: ingestor,
		now:      time.Now,
		pick:     rand.Intn,
	}
}

// Receive 向 to 投递一封随机演示邮件并返回保存的邮件
func (s *Simulator) Receive(ctx context.Context, to string) (*domain.Message, error) {
	value := domain.NormalizeAddress(to)
	if value == "" {
		return nil, fmt.Errorf("%w: to is required", domain.ErrMalformedInput)
	}
	if _, err := s.store.FindLiveAddress(ctx, value, s.now()); err != nil {
		return nil, err
	}

	subject := demoSubjects[s.pick(len(demoSubjects))]
	body := demoBodies[s.pick(len(demoBodies))]
	sender := demoSenders[s.pick(len(demoSenders))]

	html := `<div style="font-family: Arial, sans-serif; padding: 20px; max-width: 600px;">` +
		`<p style="color: #333; line-height: 1.6;">` + strings.ReplaceAll(body, "\n", "<br>") + `</p>` +
		`</div>`

	return s.ingestor.Deliver(ctx, Envelope{
		To:        value,
		From:      "noreply@" + sender,
		Subject:   subject,
		Message:   normalizer.RawMessage{HTML: html, Text: body},
		Transport: "simulate",
	})
}
