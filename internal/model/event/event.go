// Package event defines the frames a turn emits to the widget. Event is a
// closed union: only the four variants in this package implement it, and
// only Reply and Complete are terminal.
package event

// Type is the wire discriminator of a frame.
type Type string

const (
	TypeStart        Type = "start"
	TypeTextResponse Type = "textResponse"
	TypeTextChunk    Type = "textResponseChunk"
	TypeComplete     Type = "complete"
)

// Source is a reference the backend consulted while answering.
type Source struct {
	ID    string  `json:"id,omitempty"`
	Title string  `json:"title,omitempty"`
	URL   string  `json:"url,omitempty"`
	Text  string  `json:"text,omitempty"`
	Score float64 `json:"score,omitempty"`
}

// Event is one frame of a turn.
type Event interface {
	// AssistantID is the identity of the assistant message the frame belongs to.
	AssistantID() string
	// Terminal reports whether the frame closes the turn.
	Terminal() bool
	// Envelope renders the shared wire shape.
	Envelope() Envelope

	sealed()
}

// Envelope is the JSON object carried by every frame.
type Envelope struct {
	UUID         string   `json:"uuid"`
	Type         Type     `json:"type"`
	TextResponse *string  `json:"textResponse"`
	Sources      []Source `json:"sources"`
	Close        bool     `json:"close"`
	Error        bool     `json:"error"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
}

// Start opens the streamed path.
type Start struct {
	ID string
}

// Chunk carries one fragment of streamed text. An error chunk describes an
// upstream failure and is not part of the answer text.
type Chunk struct {
	ID    string
	Text  string
	Error bool
}

// Reply is a complete, non-chunked answer. It always closes the turn and is
// used for early exits and for failures that happen before any text.
type Reply struct {
	ID           string
	Text         string
	Error        bool
	ErrorMessage string
}

// Complete closes a streamed turn. The text was already delivered by chunks.
type Complete struct {
	ID      string
	Sources []Source
}

func (e Start) AssistantID() string    { return e.ID }
func (e Chunk) AssistantID() string    { return e.ID }
func (e Reply) AssistantID() string    { return e.ID }
func (e Complete) AssistantID() string { return e.ID }

func (Start) Terminal() bool    { return false }
func (Chunk) Terminal() bool    { return false }
func (Reply) Terminal() bool    { return true }
func (Complete) Terminal() bool { return true }

func (Start) sealed()    {}
func (Chunk) sealed()    {}
func (Reply) sealed()    {}
func (Complete) sealed() {}

func (e Start) Envelope() Envelope {
	return Envelope{UUID: e.ID, Type: TypeStart, Sources: []Source{}}
}

func (e Chunk) Envelope() Envelope {
	text := e.Text
	return Envelope{UUID: e.ID, Type: TypeTextChunk, TextResponse: &text, Sources: []Source{}, Error: e.Error}
}

func (e Reply) Envelope() Envelope {
	text := e.Text
	return Envelope{
		UUID:         e.ID,
		Type:         TypeTextResponse,
		TextResponse: &text,
		Sources:      []Source{},
		Close:        true,
		Error:        e.Error,
		ErrorMessage: e.ErrorMessage,
	}
}

func (e Complete) Envelope() Envelope {
	sources := e.Sources
	if sources == nil {
		sources = []Source{}
	}
	return Envelope{UUID: e.ID, Type: TypeComplete, Sources: sources, Close: true}
}
