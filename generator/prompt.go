package generator

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Prompt 表示发送给 LLM 的消息集合。
type Prompt struct {
	System  string
	User    string
	History []Message
	// Images are data URLs attached to the user message.
	Images []string
	// Schema requests structured JSON output when set.
	Schema *Schema
}

// Message 用于少量历史（可选）。
type Message struct {
	Role    string
	Content string
}

// Schema names a JSON schema for structured output.
type Schema struct {
	Name        string
	Description string
	Definition  map[string]any
}

var descriptionSchema = &Schema{
	Name:        "model_description",
	Description: "Prompt text for fashion model image generation",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{
				"type":        "string",
				"description": "Main prompt text for the image model",
			},
		},
		"required":             []string{"prompt"},
		"additionalProperties": false,
	},
}

const descriptionSystem = `You are a professional prompt engineer for fashion model image generation, specializing in virtual try-on applications.

Based on the user's provided attributes (gender, age, ethnicity, height, and weight), generate a natural English sentence that describes a professional studio model with clean body detail and no distractions.

The resulting image is the base for virtual clothing try-on, so the model must be clearly visible with full-body detail, wearing neutral base clothing.

INCLUDE:
- Model's appearance: age, gender, ethnicity, approximate body build inferred from height and weight
- Standing in a natural, upright posture with confident demeanor
- Clear and realistic facial and body details
- Clothing: plain, fitted white or light gray t-shirt and basic jeans or pants with no patterns or logos
- Studio-quality lighting with a clean white or light gray background

EXCLUDE:
- Props, lighting equipment, logos, background objects, or on-image text
- Dramatic camera angles or cropped views
- Accessories like hats, glasses, jewelry, or makeup

Return one fluent English sentence in the "prompt" field and nothing else.`

// BuildDescriptionPrompt 生成模特描述提示词。相机、姿势、场景不参与描述。
func BuildDescriptionPrompt(spec ModelSpecification) Prompt {
	var sb strings.Builder
	sb.WriteString("Model Specifications:\n")
	sb.WriteString(fmt.Sprintf("Gender: %s\n", spec.Gender))
	sb.WriteString(fmt.Sprintf("Age: %d\n", spec.Age))
	sb.WriteString(fmt.Sprintf("Nationality: %s\n", spec.Nationality))
	sb.WriteString(fmt.Sprintf("Height: %d cm\n", spec.Height))
	sb.WriteString(fmt.Sprintf("Weight: %d kg\n", spec.Weight))

	return Prompt{
		System: descriptionSystem,
		User:   sb.String(),
		Schema: descriptionSchema,
	}
}

const translationSystem = `You are a professional translator specialized in fashion photography and modeling descriptions.
Translate the text into natural, fluent English suitable for fashion photography and AI image generation.
Rules:
1. Only translate the non-English parts, keep English parts unchanged
2. Keep the original meaning; do not add details
3. Keep the translation concise and descriptive
4. Output only the translation`

// BuildTranslationPrompt 生成翻译提示词。
func BuildTranslationPrompt(text string) Prompt {
	return Prompt{System: translationSystem, User: text}
}

const garmentCheckInstruction = `Determine whether this image can be used to generate a virtual try-on image with a single top clothing item (such as a shirt, blouse, or jacket). Allow combinations that visually function as one top (e.g., a shirt with an inner layer), as long as they appear as a cohesive unit.

Answer with "true" if the clothing in the image can reasonably be treated as one top item for try-on purposes, even if it includes inner layers or accessories. Answer "false" only if the image clearly includes multiple unrelated tops.

Return only "true" or "false" without any explanation.`

// BuildGarmentCheckPrompt attaches the garment image to a yes/no question.
func BuildGarmentCheckPrompt(imageDataURL string) Prompt {
	return Prompt{User: garmentCheckInstruction, Images: []string{imageDataURL}}
}

const defaultPoseSentence = "The model stands naturally in a relaxed, upright pose."

// BuildCompositionPrompt assembles the 3-4 sentence edit prompt. Pose and
// scene must already be English.
func BuildCompositionPrompt(shot ShotType, angle Angle, pose, scene string) string {
	sentences := make([]string, 0, 4)

	framing := "full body"
	if shot == ShotHalfBody {
		framing = "half body"
	}
	sentences = append(sentences, fmt.Sprintf("This is a %s fashion photograph of a model wearing the uploaded clothing.", framing))

	if angle == AngleSide {
		sentences = append(sentences, "The model is positioned at a side-facing angle.")
	} else {
		sentences = append(sentences, "The model is positioned facing the camera.")
	}

	if p := asSentence(pose); p != "" {
		sentences = append(sentences, p)
	} else {
		sentences = append(sentences, defaultPoseSentence)
	}

	if s := asSentence(scene); s != "" {
		sentences = append(sentences, s)
	}
	return strings.Join(sentences, " ")
}

// asSentence capitalizes text and makes sure it ends with terminal punctuation.
func asSentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(text)
	text = string(unicode.ToUpper(r)) + text[size:]
	switch text[len(text)-1] {
	case '.', '!', '?':
		return text
	}
	return text + "."
}
