package batchproc

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/dvloznov/finance-categorizer/internal/domain"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// responseLine is one line of a batch output file. Failed requests carry
// an error (Gemini API) or a status message (Vertex AI) instead of a response.
type responseLine struct {
	Key      string                         `json:"key"`
	Response *genai.GenerateContentResponse `json:"response"`
	Error    json.RawMessage                `json:"error"`
	Status   string                         `json:"status"`
}

// maxLineSize bounds a single output line. Longer lines are skipped.
const maxLineSize = 1 << 20

// ParseResults correlates output lines with members by key. Every member
// gets a category: invalid, missing, errored or unparseable answers resolve
// to the fallback category. Lines for unknown keys are ignored.
func ParseResults(data []byte, members []*domain.Transaction, log zerolog.Logger) map[string]domain.Category {
	answers := make(map[string]string)

	rest := data
	lineNo := 0
	for len(rest) > 0 {
		var raw []byte
		raw, rest, _ = bytes.Cut(rest, []byte{'\n'})
		lineNo++
		if len(raw) > maxLineSize {
			log.Warn().Int("line", lineNo).Int("size", len(raw)).Msg("Skipping oversized output line")
			continue
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}

		var line responseLine
		if err := json.Unmarshal(raw, &line); err != nil {
			log.Warn().Err(err).Int("line", lineNo).Msg("Skipping unparseable output line")
			continue
		}
		if line.Key == "" || line.Response == nil {
			if len(line.Error) > 0 || line.Status != "" {
				log.Warn().
					Str("key", line.Key).
					RawJSON("error", nonEmptyJSON(line.Error)).
					Str("status", line.Status).
					Msg("Remote request failed")
			}
			continue
		}
		answers[line.Key] = responseText(line.Response)
	}

	results := make(map[string]domain.Category, len(members))
	for _, tx := range members {
		text, ok := answers[RequestKey(tx.TransactionID)]
		if !ok {
			log.Debug().Str("transaction_id", tx.TransactionID).Msg("No answer, using fallback category")
			results[tx.TransactionID] = domain.CategoryFallback
			continue
		}

		category, valid := domain.ParseCategory(cleanAnswer(text))
		if !valid {
			log.Debug().
				Str("transaction_id", tx.TransactionID).
				Str("answer", text).
				Msg("Answer is not an assignable category, using fallback")
			category = domain.CategoryFallback
		}
		results[tx.TransactionID] = category
	}
	return results
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// cleanAnswer strips the decoration models sometimes add around a bare label.
func cleanAnswer(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`+"`")
	s = strings.TrimSuffix(s, ".")
	return strings.TrimSpace(s)
}

func nonEmptyJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
