package generator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIBackend implements Backend using the official openai-go SDK: chat
// completions for text, vision and translation, the images API for
// generation and edits.
type OpenAIBackend struct {
	Model      string
	ImageModel string
	client     openai.Client
}

func NewOpenAIBackendFromConfig(cfg *LLMSettings, httpClient *http.Client) (*OpenAIBackend, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; provide llm.api_key or llm.api_key_env")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	imageModel := cfg.ImageModel
	if imageModel == "" {
		imageModel = openai.ImageModelGPTImage1
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries belong to the caller; each stage attempts a call once.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAIBackend{
		Model:      cfg.Model,
		ImageModel: imageModel,
		client:     openai.NewClient(opts...),
	}, nil
}

func (o *OpenAIBackend) Complete(ctx context.Context, prompt Prompt) (string, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if prompt.System != "" {
		msgs = append(msgs, openai.SystemMessage(prompt.System))
	}
	for _, h := range prompt.History {
		switch h.Role {
		case "assistant":
			msgs = append(msgs, openai.ChatCompletionMessageParamOfAssistant(h.Content))
		default:
			msgs = append(msgs, openai.UserMessage(h.Content))
		}
	}
	if len(prompt.Images) > 0 {
		parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(prompt.User)}
		for _, url := range prompt.Images {
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
		}
		msgs = append(msgs, openai.UserMessage(parts))
	} else {
		msgs = append(msgs, openai.UserMessage(prompt.User))
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.Model),
		Messages: msgs,
	}
	if s := prompt.Schema; s != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        s.Name,
					Description: openai.String(s.Description),
					Schema:      s.Definition,
					Strict:      openai.Bool(true),
				},
			},
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAIBackend) GenerateImage(ctx context.Context, req ImageRequest) (ImagePayload, error) {
	resp, err := o.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:  req.Prompt,
		Model:   o.ImageModel,
		Size:    openai.ImageGenerateParamsSize(req.Size),
		Quality: openai.ImageGenerateParamsQuality(req.Quality),
	})
	if err != nil {
		return ImagePayload{}, err
	}
	return firstImage(resp), nil
}

func (o *OpenAIBackend) EditImage(ctx context.Context, req EditRequest) (ImagePayload, error) {
	files := make([]io.Reader, 0, len(req.Images))
	for _, img := range req.Images {
		files = append(files, openai.File(bytes.NewReader(img.Data), img.Name, contentType(img.Name)))
	}
	resp, err := o.client.Images.Edit(ctx, openai.ImageEditParams{
		Image:   openai.ImageEditParamsImageUnion{OfFileArray: files},
		Prompt:  req.Prompt,
		Model:   o.ImageModel,
		Size:    openai.ImageEditParamsSize(req.Size),
		Quality: openai.ImageEditParamsQuality(req.Quality),
	})
	if err != nil {
		return ImagePayload{}, err
	}
	return firstImage(resp), nil
}

func firstImage(resp *openai.ImagesResponse) ImagePayload {
	if resp == nil || len(resp.Data) == 0 {
		return ImagePayload{}
	}
	return ImagePayload{URL: resp.Data[0].URL, B64JSON: resp.Data[0].B64JSON}
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
