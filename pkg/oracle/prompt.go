package oracle

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/entrhq/formforge/pkg/form"
	"github.com/entrhq/formforge/pkg/llm"
	"github.com/entrhq/formforge/pkg/llm/tokenizer"
	"github.com/entrhq/formforge/pkg/match"
)

const systemPrompt = `You help fill job application forms. You are given one form field, the value the applicant wants to enter, and the options the field offers.
Reply with a single JSON object and nothing else:
{"index": <option number, or -1 if no option fits>, "value": "<text to type when the field takes free text>", "confidence": <0.0 to 1.0>, "rationale": "<one sentence>"}
Choose an option only if it means the same thing as the desired value. Never invent options.`

// buildMessages renders req as a chat prompt. When the prompt would exceed
// maxTokens, the options least similar to the desired value are left out;
// surviving options keep their original numbers.
func buildMessages(req Request, tok *tokenizer.Tokenizer, maxTokens int) ([]*llm.Message, int) {
	order := make([]int, len(req.Options))
	for i := range order {
		order[i] = i
	}
	if len(req.Options) > 0 {
		scored := match.New(1).Score(req.Desired, req.Purpose, req.Options)
		order = order[:0]
		for _, s := range scored {
			order = append(order, s.Index)
		}
	}

	keep := len(order)
	for {
		msgs := []*llm.Message{
			llm.NewSystemMessage(systemPrompt),
			llm.NewUserMessage(renderRequest(req, order[:keep])),
		}
		n := tok.CountMessagesTokens(msgs)
		if maxTokens <= 0 || n <= maxTokens || keep == 0 {
			if keep < len(order) {
				debugLog.Debugf("Trimmed options for %s from %d to %d to fit %d tokens", req.FieldID, len(order), keep, maxTokens)
			}
			return msgs, n
		}
		keep = keep * 3 / 4
	}
}

func renderRequest(req Request, indices []int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Field: %q\n", req.Label)
	fmt.Fprintf(&b, "Widget: %s\n", req.Widget)
	if req.Purpose != "" {
		fmt.Fprintf(&b, "Purpose: %s\n", req.Purpose)
	}
	fmt.Fprintf(&b, "Desired value: %q\n", req.Desired)

	if len(indices) > 0 {
		sorted := append([]int(nil), indices...)
		sort.Ints(sorted)
		b.WriteString("Options:\n")
		for _, i := range sorted {
			fmt.Fprintf(&b, "%d. %s\n", i, req.Options[i])
		}
	} else if len(req.Options) == 0 {
		b.WriteString("Options: none listed, answer with index -1 and the text to type in value.\n")
	}

	if len(req.History) > 0 {
		b.WriteString("Already tried and failed:\n")
		for _, f := range req.History {
			fmt.Fprintf(&b, "- %s %q (%s)\n", f.Method, f.Target, f.Kind)
		}
	}
	return b.String()
}

// parseResponse extracts the JSON object from a model reply and validates it
// against the request.
func parseResponse(content string, req Request) (Response, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return Response{}, form.NewFieldError(form.ErrOracleMalformedResponse, req.FieldID, "reply has no JSON object: %.80q", content)
	}

	var raw struct {
		Method     string   `json:"method"`
		Index      *int     `json:"index"`
		Value      string   `json:"value"`
		Confidence *float64 `json:"confidence"`
		Rationale  string   `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return Response{}, form.WrapFieldError(form.ErrOracleMalformedResponse, req.FieldID, fmt.Errorf("decode reply: %w", err))
	}
	if raw.Index == nil || raw.Confidence == nil {
		return Response{}, form.NewFieldError(form.ErrOracleMalformedResponse, req.FieldID, "reply is missing index or confidence")
	}
	if *raw.Confidence < 0 || *raw.Confidence > 1 {
		return Response{}, form.NewFieldError(form.ErrOracleMalformedResponse, req.FieldID, "confidence %.2f outside [0,1]", *raw.Confidence)
	}
	if *raw.Index != NoSelection && (*raw.Index < 0 || *raw.Index >= len(req.Options)) {
		return Response{}, form.NewFieldError(form.ErrOracleMalformedResponse, req.FieldID, "index %d outside %d options", *raw.Index, len(req.Options))
	}

	return Response{
		Method:     form.Method(raw.Method),
		Index:      *raw.Index,
		Value:      strings.TrimSpace(raw.Value),
		Confidence: *raw.Confidence,
		Rationale:  raw.Rationale,
	}, nil
}
