// Package chunk implements the deterministic message/window decomposition
// of input text described in spec §4.5. It produces a finite, restartable
// sequence of (idx, ts, text); the text is split into messages eagerly and
// every message is held in memory.
package chunk

import (
	"regexp"
	"strings"
	"time"
)

// Message is one logical utterance with its monotone position and
// deterministic timestamp.
type Message struct {
	Idx  int
	TS   time.Time
	Text string
}

// Chunk is a fixed-size slice of characters carried forward by Overlap
// characters from the previous chunk. Idx counts chunks from 0 within one
// message, and TS is that message's TS plus Idx milliseconds.
type Chunk struct {
	Idx  int
	TS   time.Time
	Text string
}

// rolePrefix matches lines like "Name:" used as an explicit utterance
// separator, e.g. "Therapist: go on." or "Client: I don't know."
var rolePrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9 _-]{0,31}:\s`)

// Messages splits raw text into ordered messages. Separator policy: blank
// lines, or a line beginning with an explicit "Name:" role prefix starts a
// new message. created is the job's created_at, used to synthesize ts
// deterministically as created + idx*1s when the caller supplies no ts.
func Messages(text string, created time.Time) []Message {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var msgs []string
	var cur strings.Builder
	flush := func() {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			msgs = append(msgs, s)
		}
		cur.Reset()
	}
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			flush()
			continue
		}
		if rolePrefix.MatchString(trimmed) && cur.Len() > 0 {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(trimmed)
	}
	flush()

	out := make([]Message, 0, len(msgs))
	for i, m := range msgs {
		out = append(out, Message{
			Idx:  i + 1,
			TS:   created.Add(time.Duration(i+1) * time.Second),
			Text: m,
		})
	}
	return out
}

// Chunks splits a single message's text into fixed-size, overlap-carrying
// chunks. Chunking affects only how much text is scanned per pass; per
// spec §8 property 6, it must never change which ATO events fire, so
// ATO matching (internal/engine) operates on Messages directly and Chunks
// exists purely as the declared on-disk/perf-facing decomposition unit.
func Chunks(msg Message, chunksize, overlap int) []Chunk {
	if chunksize <= 0 {
		return []Chunk{{Idx: 0, TS: msg.TS, Text: msg.Text}}
	}
	if overlap < 0 || overlap >= chunksize {
		overlap = 0
	}
	text := msg.Text
	if len(text) <= chunksize {
		return []Chunk{{Idx: 0, TS: msg.TS, Text: text}}
	}

	var out []Chunk
	step := chunksize - overlap
	for start, i := 0, 0; start < len(text); start, i = start+step, i+1 {
		end := start + chunksize
		if end > len(text) {
			end = len(text)
		}
		out = append(out, Chunk{
			Idx:  i,
			TS:   msg.TS.Add(time.Duration(i) * time.Millisecond),
			Text: text[start:end],
		})
		if end == len(text) {
			break
		}
	}
	return out
}

// Sequence is a pull-based, restartable producer of messages: each call to
// Next returns the next message and true, or the zero value and false once
// exhausted. Restarting means constructing a new Sequence from the same
// text; it holds no external resources to release.
type Sequence struct {
	msgs []Message
	pos  int
}

// NewSequence builds a lazy sequence over pre-split messages. Splitting
// itself is O(n) and eager (spec only requires consumption to be lazy), but
// nothing downstream forces materialization of per-message chunk lists
// until Chunks is called for that message.
func NewSequence(text string, created time.Time) *Sequence {
	return &Sequence{msgs: Messages(text, created)}
}

// Next returns the next message in order, or ok=false when exhausted.
func (s *Sequence) Next() (Message, bool) {
	if s.pos >= len(s.msgs) {
		return Message{}, false
	}
	m := s.msgs[s.pos]
	s.pos++
	return m, true
}

// Len reports the total number of messages, without consuming the sequence.
func (s *Sequence) Len() int { return len(s.msgs) }
