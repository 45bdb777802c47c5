package detect

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// Model defaults. Bedrock needs its own model id and a region.
const (
	DefaultClaudeModel   = "claude-sonnet-4-5"
	DefaultBedrockModel  = "global.anthropic.claude-sonnet-4-5-20250929-v1:0"
	DefaultBedrockRegion = "eu-west-1"
)

// ClaudeConfig selects how the Claude detector reaches the model. Bedrock is
// used when UseBedrock is set, otherwise APIKey.
type ClaudeConfig struct {
	APIKey     string
	Model      string
	UseBedrock bool
	// Region is the Bedrock region; empty means DefaultBedrockRegion.
	Region string
	Labels []string
}

// ClaudeDetector classifies images with a Claude vision model. It answers in
// the same record vocabulary as the detector service so one threshold table
// covers both.
type ClaudeDetector struct {
	client anthropic.Client
	model  string
	prompt string
}

// NewClaudeDetector builds the detector. ctx is only used to load AWS config
// for Bedrock.
func NewClaudeDetector(ctx context.Context, cfg ClaudeConfig) (*ClaudeDetector, error) {
	var (
		opts  []option.RequestOption
		model = cfg.Model
	)
	switch {
	case cfg.UseBedrock:
		region := cfg.Region
		if region == "" {
			region = DefaultBedrockRegion
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, awsconfig.WithRegion(region)))
		if model == "" {
			model = DefaultBedrockModel
		}
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
		if model == "" {
			model = DefaultClaudeModel
		}
	default:
		return nil, fmt.Errorf("detect: claude detector needs ANTHROPIC_API_KEY or AWS credentials")
	}

	return &ClaudeDetector{
		client: anthropic.NewClient(opts...),
		model:  model,
		prompt: claudePrompt(cfg.Labels),
	}, nil
}

// Classify sends one image as a base64 image block.
func (c *ClaudeDetector) Classify(ctx context.Context, img Image) (Result, error) {
	mediaType := http.DetectContentType(img.Data)
	switch mediaType {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
	default:
		return Result{}, fmt.Errorf("detect: claude cannot read %s", mediaType)
	}

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 512,
		System: []anthropic.TextBlockParam{
			{Text: c.prompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(img.Data)),
			),
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("detect: claude request: %w", err)
	}
	if len(message.Content) == 0 {
		return Result{}, fmt.Errorf("detect: empty claude response")
	}
	return parseClaudeRecords(strings.TrimSpace(message.Content[0].Text))
}

// ClassifyBatch classifies each image in turn.
func (c *ClaudeDetector) ClassifyBatch(ctx context.Context, imgs []Image) (Result, error) {
	frames := make([][]Record, 0, len(imgs))
	for i, img := range imgs {
		res, err := c.Classify(ctx, img)
		if err != nil {
			return Result{}, fmt.Errorf("detect: frame %d: %w", i, err)
		}
		frames = append(frames, res.Records())
	}
	return PerVideoFrameResult(frames), nil
}

// parseClaudeRecords extracts the JSON array from model output that may carry
// extra text around it.
func parseClaudeRecords(content string) (Result, error) {
	if res, err := DecodeResult([]byte(content)); err == nil {
		return res, nil
	}
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start >= 0 && end > start {
		if res, err := DecodeResult([]byte(content[start : end+1])); err == nil {
			return res, nil
		}
	}
	return Result{}, fmt.Errorf("detect: unparseable claude response: %s", truncate(content, 200))
}

func claudePrompt(labels []string) string {
	sorted := append([]string(nil), labels...)
	sort.Strings(sorted)
	return `You are an image moderation detector. Look at the image and list every region that matches one of these labels:
` + strings.Join(sorted, ", ") + `

Respond with a JSON array only, one object per detection:
[{"class": "<LABEL>", "score": 0.0-1.0}]

Use only the labels above. Respond with [] when nothing matches.`
}
