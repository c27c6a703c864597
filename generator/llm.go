package generator

import "context"

// LLMClient 抽象文本/结构化/视觉对话能力，便于替换/Mock。
type LLMClient interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// ImageClient 抽象图像生成与编辑能力。
type ImageClient interface {
	GenerateImage(ctx context.Context, req ImageRequest) (ImagePayload, error)
	EditImage(ctx context.Context, req EditRequest) (ImagePayload, error)
}

// Backend is the full generative capability consumed by the stages.
type Backend interface {
	LLMClient
	ImageClient
}

// ImageRequest asks for a new image from text.
type ImageRequest struct {
	Prompt  string
	Size    string
	Quality string
}

// SourceImage is one input to an edit call.
type SourceImage struct {
	Name string
	Data []byte
}

// EditRequest combines source images under a text prompt.
type EditRequest struct {
	Images  []SourceImage
	Prompt  string
	Size    string
	Quality string
}

// ImagePayload 远端返回：URL 或 base64 内联数据，二者可能都为空。
type ImagePayload struct {
	URL     string
	B64JSON string
}

// Empty reports whether the payload carries no image in either form.
func (p ImagePayload) Empty() bool { return p.URL == "" && p.B64JSON == "" }

// LLMSettings 提供给具体实现的基础配置。
type LLMSettings struct {
	Provider   string
	Model      string
	ImageModel string
	APIKey     string
	BaseURL    string
}
