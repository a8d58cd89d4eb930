package transform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"

	"github.com/tidwall/gjson"

	"github.com/plexus-gateway/plexus/internal/config"
	"github.com/plexus-gateway/plexus/internal/gateway"
	"github.com/plexus-gateway/plexus/internal/sseutil"
)

// openAICompatAdapter backs the "openai-compatible" provider type: mostly
// the plain OpenAI wire shape, plus two upstream quirks observed in the
// wild behind OpenAI-compatible endpoints: a Gemini-family "Antigravity"
// response envelope (`{"response": <payload>}`) some proxies wrap every
// chunk in, and a `thoughtsTokenCount` usage field in place of OpenAI's
// `reasoning_tokens`.
var openAICompatAdapter = Adapter{
	BuildRequest:  buildOpenAICompatRequest,
	ParseResponse: parseOpenAICompatResponse,
	WrapStream:    wrapOpenAICompatStream,
}

func buildOpenAICompatRequest(req gateway.UnifiedRequest, canonicalSlug string, provider config.ProviderRecord) ([]byte, string, error) {
	body, path, err := buildOpenAIRequest(req, canonicalSlug, provider)
	if err != nil {
		return nil, "", err
	}
	if sid := sessionID(req); sid != "" {
		body, err = withSessionID(body, sid)
		if err != nil {
			return nil, "", err
		}
	}
	return body, path, nil
}

// sessionID hashes the concatenation of message contents so identical
// inputs yield identical IDs (SPEC_FULL.md §4.5).
func sessionID(req gateway.UnifiedRequest) string {
	if len(req.Messages) == 0 {
		return ""
	}
	h := sha256.New()
	for _, m := range req.Messages {
		h.Write([]byte(m.ContentText()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func withSessionID(body []byte, sid string) ([]byte, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return body, nil
	}
	meta, _ := raw["metadata"].(map[string]any)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["session_id"] = sid
	raw["metadata"] = meta
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, gateway.NewError(gateway.KindInvalidRequest, "encode openai-compatible request: "+err.Error())
	}
	return b, nil
}

// unwrapEnvelope strips the Antigravity-style `{"response": <payload>}`
// wrapper when present, returning data unchanged otherwise.
func unwrapEnvelope(data []byte) []byte {
	if inner := gjson.GetBytes(data, "response"); inner.Exists() && inner.Type == gjson.JSON {
		return []byte(inner.Raw)
	}
	return data
}

func parseOpenAICompatResponse(data []byte) (gateway.UnifiedResponse, error) {
	resp, err := parseOpenAIResponse(unwrapEnvelope(data))
	if err != nil {
		return resp, err
	}
	if thoughts := gjson.GetBytes(unwrapEnvelope(data), "usage.thoughtsTokenCount"); thoughts.Exists() {
		resp.Usage.ReasoningTokens = int(thoughts.Int())
	}
	return resp, nil
}

func wrapOpenAICompatStream(ctx context.Context, body io.ReadCloser, out chan<- gateway.UnifiedChunk) {
	defer close(out)
	defer body.Close()

	raw := make(chan sseutil.RawEvent, 4)
	go sseutil.ReadRawLines(ctx, body, raw)

	var lastID, lastModel string
	var lastCreated int64

	for ev := range raw {
		if ev.Err != nil {
			select {
			case out <- gateway.UnifiedChunk{Err: ev.Err}:
			case <-ctx.Done():
			}
			return
		}
		if ev.Done {
			select {
			case out <- gateway.UnifiedChunk{Done: true}:
			case <-ctx.Done():
			}
			return
		}
		if string(ev.Data) == "null" {
			select {
			case out <- gateway.UnifiedChunk{ID: lastID, Model: lastModel, Created: lastCreated, FinishReason: "stop"}:
			case <-ctx.Done():
				return
			}
			select {
			case out <- gateway.UnifiedChunk{Done: true}:
			case <-ctx.Done():
			}
			return
		}

		data := unwrapEnvelope(ev.Data)
		r := gjson.ParseBytes(data)
		lastID = r.Get("id").String()
		lastModel = r.Get("model").String()
		lastCreated = r.Get("created").Int()
		choice := r.Get("choices.0")

		chunk := gateway.UnifiedChunk{
			ID:           lastID,
			Model:        lastModel,
			Created:      lastCreated,
			DeltaContent: choice.Get("delta.content").String(),
			FinishReason: choice.Get("finish_reason").String(),
		}
		if u := r.Get("usage"); u.Exists() && u.Type == gjson.JSON {
			chunk.Usage = &gateway.Usage{
				InputTokens:     int(u.Get("prompt_tokens").Int()),
				OutputTokens:    int(u.Get("completion_tokens").Int()),
				TotalTokens:     int(u.Get("total_tokens").Int()),
				ReasoningTokens: int(u.Get("thoughtsTokenCount").Int()),
			}
		}

		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		}
	}
}
