package tooluse

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// StreamRewriter buffers assistant delta fragments while tools are active
// and, at end of stream, either replays the buffered chunks untouched or
// rewrites the tail of the stream into OpenAI tool-call delta frames.
//
// The upstream backend emits the whole envelope as ordinary content, so the
// rewriter cannot stream tool calls incrementally; it emits the id and
// function name on the first fragment and the arguments as one fragment,
// which is conformant and keeps the rewrite simple.
type StreamRewriter struct {
	chunks   [][]byte
	content  strings.Builder
	template string
}

// NewStreamRewriter returns an empty rewriter.
func NewStreamRewriter() *StreamRewriter {
	return &StreamRewriter{}
}

// Observe records one upstream chunk and accumulates its delta content.
func (r *StreamRewriter) Observe(chunk []byte) {
	r.chunks = append(r.chunks, chunk)
	if r.template == "" {
		r.template = chunkTemplate(chunk)
	}
	if content := gjson.GetBytes(chunk, "choices.0.delta.content"); content.Exists() {
		r.content.WriteString(content.String())
	}
}

// Finish decides the fate of the buffered stream. When the accumulated
// content parses as a tool-call envelope it returns the rewritten frames;
// otherwise it returns the buffered chunks for byte-exact replay. The error
// reports an attempted-but-unparseable tool call.
func (r *StreamRewriter) Finish() (frames [][]byte, rewritten bool, err error) {
	result, errExtract := extractToolCalls(r.content.String())
	if errExtract != nil {
		return nil, false, errExtract
	}
	if result == nil {
		return r.chunks, false, nil
	}

	calls := gjson.Parse(result.toolCallsRaw).Array()

	// First frame: role plus id, type, and function name per call.
	head := r.template
	head, _ = sjson.Set(head, "choices.0.delta.role", "assistant")
	for i, call := range calls {
		entry := `{"index":0,"id":"","type":"function","function":{"name":"","arguments":""}}`
		entry, _ = sjson.Set(entry, "index", i)
		entry, _ = sjson.Set(entry, "id", call.Get("id").String())
		entry, _ = sjson.Set(entry, "function.name", call.Get("function.name").String())
		head, _ = sjson.SetRaw(head, "choices.0.delta.tool_calls.-1", entry)
	}
	frames = append(frames, []byte(head))

	// One frame per call carrying the full arguments string.
	for i, call := range calls {
		frame := r.template
		entry := `{"index":0,"function":{"arguments":""}}`
		entry, _ = sjson.Set(entry, "index", i)
		entry, _ = sjson.Set(entry, "function.arguments", call.Get("function.arguments").String())
		frame, _ = sjson.SetRaw(frame, "choices.0.delta.tool_calls.-1", entry)
		frames = append(frames, []byte(frame))
	}

	// Terminating frame.
	tail := r.template
	tail, _ = sjson.Set(tail, "choices.0.finish_reason", "tool_calls")
	frames = append(frames, []byte(tail))

	return frames, true, nil
}

// chunkTemplate strips a chunk down to its envelope fields so rewritten
// frames carry the same id, model, and timestamps the upstream used.
func chunkTemplate(chunk []byte) string {
	out := `{"id":"","object":"chat.completion.chunk","created":0,"model":"","choices":[{"index":0,"delta":{},"finish_reason":null}]}`
	if id := gjson.GetBytes(chunk, "id"); id.Exists() {
		out, _ = sjson.Set(out, "id", id.String())
	}
	if created := gjson.GetBytes(chunk, "created"); created.Exists() {
		out, _ = sjson.Set(out, "created", created.Int())
	}
	if model := gjson.GetBytes(chunk, "model"); model.Exists() {
		out, _ = sjson.Set(out, "model", model.String())
	}
	if sysFp := gjson.GetBytes(chunk, "system_fingerprint"); sysFp.Exists() {
		out, _ = sjson.Set(out, "system_fingerprint", sysFp.String())
	}
	return out
}
