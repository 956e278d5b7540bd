package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when GeminiConfig.Model is empty.
const DefaultGeminiModel = "gemini-2.0-flash"

const systemPrompt = "You are a vision model that locates objects in images. " +
	"Given an image and a description, return the bounding box of the described object " +
	"as [xmin, xmax, ymin, ymax]. Use coordinates between 0 and 1000. " +
	"If the object is not visible, return an empty array."

// GeminiConfig configures a GeminiModel.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiModel is a Model backed by the Gemini API.
type GeminiModel struct {
	client *genai.Client
	model  string
}

// NewGeminiModel creates a Gemini client.
func NewGeminiModel(ctx context.Context, cfg GeminiConfig) (*GeminiModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("vision: gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("vision: gemini: new client: %w", err)
	}
	return &GeminiModel{client: client, model: cfg.Model}, nil
}

// Name returns the engine name.
func (g *GeminiModel) Name() string {
	return "gemini:" + g.model
}

// locateResponse is the structured output requested from the model.
type locateResponse struct {
	Coordinates []float64 `json:"coordinates"`
}

// Locate implements Model.
func (g *GeminiModel) Locate(ctx context.Context, image []byte, mimeType, description string) ([]float64, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, mimeType),
			genai.NewPartFromText(instruction(description)),
		}, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    coordinatesSchema(),
	})
	if err != nil {
		return nil, fmt.Errorf("vision: gemini: generate: %w", err)
	}
	return parseCoordinates(resp.Text())
}

func instruction(description string) string {
	return "Find the bounding box coordinates of this object: " + description +
		". Return the coordinates as an array [xmin, xmax, ymin, ymax]. All values should be between 0 and 1000."
}

func coordinatesSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"coordinates": {
				Type:        genai.TypeArray,
				Description: "[xmin, xmax, ymin, ymax] between 0 and 1000, empty when not found",
				Items: &genai.Schema{
					Type:    genai.TypeNumber,
					Minimum: genai.Ptr[float64](0),
					Maximum: genai.Ptr[float64](Scale),
				},
				MaxItems: genai.Ptr[int64](4),
			},
		},
		Required: []string{"coordinates"},
	}
}

// parseCoordinates accepts the structured object and, for models that ignore
// the schema, a bare array.
func parseCoordinates(text string) ([]float64, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimSuffix(strings.TrimPrefix(text, "```"), "```")
	text = strings.TrimSpace(text)
	if text == "" || text == "null" {
		return nil, nil
	}
	if strings.HasPrefix(text, "[") {
		var arr []float64
		if err := json.Unmarshal([]byte(text), &arr); err != nil {
			return nil, fmt.Errorf("vision: gemini: decode array: %w", err)
		}
		return arr, nil
	}
	var out locateResponse
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("vision: gemini: decode response: %w", err)
	}
	return out.Coordinates, nil
}
