package batchproc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-categorizer/internal/domain"
	"google.golang.org/genai"
)

// KeyPrefix prefixes transaction ids in request keys.
const KeyPrefix = "transaction-"

// DefaultMaxOutputTokens bounds each classification answer.
const DefaultMaxOutputTokens = 20

// requestLine is one line of a batch input file.
type requestLine struct {
	Key     string                 `json:"key"`
	Request generateContentRequest `json:"request"`
}

type generateContentRequest struct {
	Contents          []*genai.Content        `json:"contents"`
	SystemInstruction *genai.Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *genai.GenerationConfig `json:"generationConfig,omitempty"`
}

// RequestKey returns the correlation key for a transaction.
func RequestKey(transactionID string) string {
	return KeyPrefix + transactionID
}

func categoryNames() []string {
	cats := domain.AssignableCategories()
	names := make([]string, 0, len(cats))
	for _, c := range cats {
		names = append(names, string(c))
	}
	return names
}

// systemPrompt lists the allowed categories and the fallback rule.
func systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant that categorizes financial transactions.\n")
	b.WriteString("Use ONLY the following categories: ")
	b.WriteString(strings.Join(categoryNames(), ", "))
	b.WriteString(".\n")
	fmt.Fprintf(&b, "If a transaction doesn't clearly fit into any of these categories, use %q.\n", domain.CategoryFallback)
	return b.String()
}

func userPrompt(tx *domain.Transaction) string {
	return fmt.Sprintf(
		"Please categorize this transaction into one of the predefined categories. "+
			"The transaction description is: %q. The transaction type is %s and the amount is %s. "+
			"Respond with only the category name, nothing else.",
		tx.Description, tx.Type, tx.Amount.String(),
	)
}

func generationConfig(maxOutputTokens int) *genai.GenerationConfig {
	if maxOutputTokens <= 0 {
		maxOutputTokens = DefaultMaxOutputTokens
	}
	return &genai.GenerationConfig{
		MaxOutputTokens:  int32(maxOutputTokens),
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "text/x.enum",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeString,
			Enum: categoryNames(),
		},
	}
}

// BuildRequests renders one JSONL request line per transaction.
func BuildRequests(txs []*domain.Transaction, maxOutputTokens int) ([]byte, error) {
	system := &genai.Content{Parts: []*genai.Part{{Text: systemPrompt()}}}
	genCfg := generationConfig(maxOutputTokens)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, tx := range txs {
		line := requestLine{
			Key: RequestKey(tx.TransactionID),
			Request: generateContentRequest{
				Contents: []*genai.Content{
					{Role: genai.RoleUser, Parts: []*genai.Part{{Text: userPrompt(tx)}}},
				},
				SystemInstruction: system,
				GenerationConfig:  genCfg,
			},
		}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("BuildRequests: encoding transaction %s: %w", tx.TransactionID, err)
		}
	}
	return buf.Bytes(), nil
}
