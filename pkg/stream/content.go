package stream

import "strings"

// deltaChunkSize is the target rune length of one delta event's content.
const deltaChunkSize = 64

// EmitResponse pushes one complete agent response through an emitter as
// deltas followed by the terminal event and [DONE]. The text is sanitized
// once before chunking so the delta concatenation and the terminal content
// are the same string.
func EmitResponse(e Emitter, text, threadID string) {
	sanitized := DedupTables(text)
	for _, chunk := range ChunkText(sanitized) {
		e.Delta(chunk)
	}
	e.Terminal(sanitized, threadID)
	e.Done()
}

// ChunkText splits text into non-overlapping delta chunks, breaking on
// rune boundaries so multi-byte characters are never split.
func ChunkText(text string) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/deltaChunkSize+1)
	for start := 0; start < len(runes); start += deltaChunkSize {
		end := start + deltaChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// DedupTables keeps the first HTML table in the text and elides any later
// ones. One response renders at most one table; agents occasionally repeat
// a table when they restate an answer.
func DedupTables(text string) string {
	first := strings.Index(text, "<table")
	if first < 0 {
		return text
	}
	firstEnd := strings.Index(text[first:], "</table>")
	if firstEnd < 0 {
		return text
	}
	firstEnd += first + len("</table>")

	rest := text[firstEnd:]
	var b strings.Builder
	b.WriteString(text[:firstEnd])
	for {
		open := strings.Index(rest, "<table")
		if open < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:open])
		end := strings.Index(rest[open:], "</table>")
		if end < 0 {
			// Unterminated duplicate table: drop the fragment.
			break
		}
		rest = rest[open+end+len("</table>"):]
	}
	return b.String()
}
