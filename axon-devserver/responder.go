package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/gosuda/axon-chat/chat"
)

const systemPrompt = "You are Axon AI, a friendly and helpful assistant. Answer in the language the user writes in."

const voicePrompt = " Your answer will be read aloud, so keep it short and conversational and avoid markdown."

type replyRequest struct {
	User    chat.User
	Message string
	Mode    chat.Mode
	// History holds earlier exchanges, newest first.
	History []record
}

type imageRequest struct {
	Name        string
	ContentType string
	Data        []byte
	Caption     string
}

type responder interface {
	Reply(ctx context.Context, req replyRequest) (string, error)
	Describe(ctx context.Context, img imageRequest) (string, error)
}

// echoResponder answers without a model; used when no API key is set.
type echoResponder struct{}

func (echoResponder) Reply(_ context.Context, req replyRequest) (string, error) {
	return "You said: " + req.Message, nil
}

func (echoResponder) Describe(_ context.Context, img imageRequest) (string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	desc := fmt.Sprintf("A %dx%d %s image named %s.", cfg.Width, cfg.Height, strings.ToUpper(format), img.Name)
	if img.Caption != "" {
		desc += " You asked: " + img.Caption
	}
	return desc, nil
}

// openAIResponder answers through the chat completions API.
type openAIResponder struct {
	client     *openai.Client
	model      string
	maxHistory int
}

func newOpenAIResponder(apiKey, baseURL, model string) *openAIResponder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &openAIResponder{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		maxHistory: 10,
	}
}

func (o *openAIResponder) Reply(ctx context.Context, req replyRequest) (string, error) {
	prompt := systemPrompt
	if req.Mode == chat.ModeVoice {
		prompt += voicePrompt
	}
	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: prompt}}
	hist := req.History
	if len(hist) > o.maxHistory {
		hist = hist[:o.maxHistory]
	}
	for i := len(hist) - 1; i >= 0; i-- {
		msgs = append(msgs,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: hist[i].Message},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: hist[i].Response},
		)
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Message})
	return o.complete(ctx, msgs)
}

func (o *openAIResponder) Describe(ctx context.Context, img imageRequest) (string, error) {
	text := img.Caption
	if text == "" {
		text = "Describe this image briefly."
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", img.ContentType, base64.StdEncoding.EncodeToString(img.Data))
	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: text},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailAuto,
				}},
			},
		},
	}
	return o.complete(ctx, msgs)
}

func (o *openAIResponder) complete(ctx context.Context, msgs []openai.ChatCompletionMessage) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response from model")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
