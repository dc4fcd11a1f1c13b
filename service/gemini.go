package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/TIANLI0/ClearBG/config"
	"github.com/TIANLI0/ClearBG/model"
	"github.com/TIANLI0/ClearBG/utils"
)

const removalPrompt = "Remove the background of this image. Extract the main subject precisely and place it on a clean, solid %s background. Ensure sharp, clean edges. Return only the edited image."

// ErrServiceBusy 等待处理名额超时
var ErrServiceBusy = errors.New("service busy")

// contentGenerator genai.Models 的子集，测试时替换
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// RemovalInput 一次去背景请求
type RemovalInput struct {
	Data     []byte
	MimeType string
	Color    model.BgColor
}

// GeminiService 负责调用 Gemini 完成去背景
type GeminiService struct {
	generator    contentGenerator
	model        string
	semaphore    chan struct{}
	queueTimeout time.Duration
	logger       *zap.Logger
}

// NewGeminiService 创建 Gemini 客户端，API Key 只保存在服务端
func NewGeminiService(ctx context.Context, cfg *config.GeminiConfig) (*GeminiService, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newGeminiService(client.Models, cfg), nil
}

func newGeminiService(generator contentGenerator, cfg *config.GeminiConfig) *GeminiService {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &GeminiService{
		generator:    generator,
		model:        cfg.Model,
		semaphore:    make(chan struct{}, maxConcurrent),
		queueTimeout: cfg.QueueTimeout,
		logger:       utils.Component("gemini"),
	}
}

// Remove 发起一次模型调用，返回第一张内联图片的 data URI
func (s *GeminiService) Remove(ctx context.Context, in RemovalInput) (string, error) {
	if len(in.Data) == 0 || in.MimeType == "" {
		return "", model.NewInvalidInput("Invalid input data")
	}
	if !in.Color.Valid() {
		return "", model.NewInvalidInput("Invalid input data")
	}

	// 并发控制
	release, err := s.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	startTime := time.Now()

	parts := []*genai.Part{
		genai.NewPartFromBytes(in.Data, in.MimeType),
		genai.NewPartFromText(fmt.Sprintf(removalPrompt, in.Color.PromptName())),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	resp, err := s.generator.GenerateContent(ctx, s.model, contents, nil)
	if err != nil {
		s.logger.Error("gemini request failed",
			zap.String("color", in.Color.String()),
			zap.Duration("cost", time.Since(startTime)),
			zap.Error(err))
		return "", model.NewTransportFailure(upstreamMessage(err), err)
	}

	uri, err := extractImage(resp)
	if err != nil {
		s.logger.Warn("gemini returned no image",
			zap.String("color", in.Color.String()),
			zap.Error(err))
		return "", err
	}

	s.logger.Info("background removed",
		zap.String("color", in.Color.String()),
		zap.String("mime_type", in.MimeType),
		zap.Int("size", len(in.Data)),
		zap.Duration("cost", time.Since(startTime)))

	return uri, nil
}

func (s *GeminiService) acquire(ctx context.Context) (func(), error) {
	waitCtx := ctx
	if s.queueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.queueTimeout)
		defer cancel()
	}

	select {
	case s.semaphore <- struct{}{}:
		return func() { <-s.semaphore }, nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, model.NewTransportFailure(ctx.Err().Error(), ctx.Err())
		}
		return nil, model.NewTransportFailure("Service busy, please retry later", ErrServiceBusy)
	}
}

// extractImage 按顺序扫描第一个候选的 parts，取第一段内联图片
func extractImage(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil ||
		resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", model.NewModelFailure("No response from Gemini")
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		return utils.EncodeDataURI(part.InlineData.MIMEType, part.InlineData.Data), nil
	}

	return "", model.NewModelFailure("No image returned by model")
}

func upstreamMessage(err error) string {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
