package narrator

import "strings"

// wordTracker accumulates streamed text and emits a timing event for every
// completed word. A word is complete once whitespace follows it; the
// trailing fragment is flushed when the stream ends.
type wordTracker struct {
	sink    EventSink
	full    strings.Builder
	pending string
	count   int
}

func newWordTracker(sink EventSink) *wordTracker {
	return &wordTracker{sink: sink}
}

func (t *wordTracker) feed(chunk string) error {
	t.full.WriteString(chunk)
	t.pending += chunk

	for {
		idx := strings.IndexAny(t.pending, " \t\r\n")
		if idx < 0 {
			return nil
		}

		word := strings.TrimSpace(t.pending[:idx])
		t.pending = t.pending[idx+1:]

		if word == "" {
			continue
		}

		if err := t.emit(word); err != nil {
			return err
		}
	}
}

func (t *wordTracker) flush() error {
	word := strings.TrimSpace(t.pending)
	t.pending = ""

	if word == "" {
		return nil
	}

	return t.emit(word)
}

func (t *wordTracker) emit(word string) error {
	offset := int64(t.count) * wordIntervalMs
	t.count++

	return t.sink.Word(word, offset)
}

func (t *wordTracker) text() string {
	return strings.TrimSpace(t.full.String())
}
