package openai

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

const streamDoneSentinel = "[DONE]"

// streamCallbacks receive auxiliary stream events that are not part of
// the accumulated text: tool-call deltas and the finish reason.
type streamCallbacks struct {
	onToolCall func(delta any)
	onFinish   func(reason string)
}

// streamResult is the accumulated outcome of one parsed SSE stream.
type streamResult struct {
	text         string
	finishReason string
	chunks       int
}

// parseStream reads newline-delimited server-sent events: lines
// prefixed "data: " carrying JSON deltas, terminated by a literal
// "data: [DONE]" line. Only choices[0].delta.content fragments are
// accumulated and forwarded to onChunk, in arrival order; any other
// line is ignored.
func parseStream(r io.Reader, onChunk func(string), cb streamCallbacks) (*streamResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	result := &streamResult{}
	var sb strings.Builder

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == streamDoneSentinel {
			result.text = sb.String()
			return result, nil
		}

		var delta streamDelta
		if err := json.Unmarshal([]byte(payload), &delta); err != nil {
			// tolerate malformed keep-alive frames
			continue
		}
		if len(delta.Choices) == 0 {
			continue
		}

		choice := delta.Choices[0]
		if choice.Delta.Content != "" {
			sb.WriteString(choice.Delta.Content)
			result.chunks++
			if onChunk != nil {
				onChunk(choice.Delta.Content)
			}
		}
		if choice.Delta.ToolCalls != nil && cb.onToolCall != nil {
			cb.onToolCall(choice.Delta.ToolCalls)
		}
		if choice.Delta.FunctionCall != nil && cb.onToolCall != nil {
			cb.onToolCall(choice.Delta.FunctionCall)
		}
		if choice.FinishReason != "" {
			result.finishReason = choice.FinishReason
			if cb.onFinish != nil {
				cb.onFinish(choice.FinishReason)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	// Stream ended without the sentinel; return what arrived.
	result.text = sb.String()
	return result, nil
}
