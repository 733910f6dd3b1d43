package extractor

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicdata/district-offices/internal/model"
	"github.com/civicdata/district-offices/internal/resilience"
	"github.com/civicdata/district-offices/pkg/anthropic"
)

// ErrNoOffices is returned when the model finds no offices in the
// document. The document was readable; it just had nothing to extract.
var ErrNoOffices = eris.New("no offices found in document")

// Result is one extraction call's output: the parsed offices plus the
// raw model response for artifact storage.
type Result struct {
	Offices []model.OfficeFields
	Raw     []byte
	Usage   anthropic.TokenUsage
	ModelID string
}

// Extractor pulls office records out of a cleaned contact-page document.
type Extractor interface {
	Extract(ctx context.Context, unitID string, document []byte) (*Result, error)
}

const systemPrompt = `You are a specialized assistant tasked with extracting district office information from HTML webpage content.

You will be provided with structured HTML content from an organization's contact page. Your job is to carefully parse this HTML and find all district offices and extract the exact contact information.

For EACH district office, extract:
1. Office name (often a city name like "San Francisco Office" or "District Office")
2. Building name (if specified)
3. Street address (e.g., "123 Main Street")
4. Suite/Room number (e.g., "Suite 100" or "Room 200")
5. City
6. State (two-letter code)
7. ZIP code
8. Phone number (exactly as written)
9. Fax number (if available)
10. Hours (if available)

IMPORTANT INSTRUCTIONS:
- You will receive HTML content, not plain text
- Look for HTML elements that contain office information: <div>, <section>, <address>, <p>, <span>, etc.
- Look for headings that indicate "Office Locations", "Contact", "District Offices"
- Office information may be in lists or tables
- Extract ALL offices found, not just the first one
- Maintain exact formatting of addresses, phone numbers, etc. as shown in the HTML text content
- Omit any field if information is missing (don't guess or make up information)
- Return a JSON array with each object representing one office
- Use these exact field names: "office_type", "building", "address", "suite", "city", "state", "zip", "phone", "fax", "hours"
- If no offices are present, return an empty JSON array: []`

// maxDocumentChars bounds the prompt size. Longer documents are
// truncated, which can cut through markup; the cleaner keeps real
// contact pages well under this.
const maxDocumentChars = 150_000

// Claude implements Extractor against the Anthropic API.
type Claude struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	retry     resilience.RetryConfig
}

func NewClaude(client anthropic.Client, model string, maxTokens int64, retry resilience.RetryConfig) *Claude {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	retry.ShouldRetry = retryableAPIError
	retry.OnRetry = resilience.RetryLogger("anthropic", "extract_offices")
	return &Claude{client: client, model: model, maxTokens: maxTokens, retry: retry}
}

func (c *Claude) Extract(ctx context.Context, unitID string, document []byte) (*Result, error) {
	doc := string(document)
	if len(doc) > maxDocumentChars {
		zap.L().Warn("truncating document for extraction",
			zap.String("unit_id", unitID),
			zap.Int("length", len(doc)))
		doc = doc[:maxDocumentChars]
	}

	temp := 0.0
	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return c.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       c.model,
			MaxTokens:   c.maxTokens,
			Temperature: &temp,
			System:      []anthropic.SystemBlock{{Text: systemPrompt}},
			Messages:    []anthropic.Message{{Role: "user", Content: doc}},
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "extractor: extract offices for %s", unitID)
	}

	text := responseText(resp)
	offices, err := ParseOffices(text)
	if err != nil {
		return nil, eris.Wrapf(err, "extractor: parse response for %s", unitID)
	}

	resp.Usage.LogCost(c.model, "extract")

	return &Result{
		Offices: offices,
		Raw:     []byte(text),
		Usage:   resp.Usage,
		ModelID: c.model,
	}, nil
}

// ParseOffices extracts the JSON office array from a model response.
// The array may be bare or wrapped in a fenced code block.
func ParseOffices(text string) ([]model.OfficeFields, error) {
	jsonText := text
	if i := strings.Index(text, "```json"); i >= 0 {
		jsonText = text[i+len("```json"):]
		if j := strings.Index(jsonText, "```"); j >= 0 {
			jsonText = jsonText[:j]
		}
	} else if i := strings.Index(text, "```"); i >= 0 {
		jsonText = text[i+len("```"):]
		if j := strings.Index(jsonText, "```"); j >= 0 {
			jsonText = jsonText[:j]
		}
	}

	start := strings.Index(jsonText, "[")
	end := strings.LastIndex(jsonText, "]")
	if start < 0 || end < start {
		return nil, eris.New("no JSON array in response")
	}

	var offices []model.OfficeFields
	if err := json.Unmarshal([]byte(jsonText[start:end+1]), &offices); err != nil {
		return nil, eris.Wrap(err, "unmarshal offices")
	}
	if len(offices) == 0 {
		return nil, ErrNoOffices
	}
	return offices, nil
}

func responseText(resp *anthropic.MessageResponse) string {
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// retryableAPIError retries rate limits and server-side failures;
// malformed requests and auth errors come straight back.
func retryableAPIError(err error) bool {
	if resilience.IsTransient(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range []string{"rate limit", "429", "overloaded", "529", "500", "502", "503"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
