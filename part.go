package loom

// Part is a sealed interface representing a typed content fragment attached
// to a message. Parts are immutable once the owning message is persisted,
// and their array order at storage time must exactly match the order in
// which they were supplied, regardless of asynchronous resolution order.
type Part interface {
	isPart()
}

// TextPart contains prompt text. Synthetic marks engine-injected explanatory
// text, such as a note substituted for a failed file resolution. Ignored
// text is stored but excluded from the rendered prompt.
type TextPart struct {
	ID        string
	Text      string
	Synthetic bool
	Ignored   bool
	Start     int
	End       int
}

func (TextPart) isPart() {}

// FilePart references a file by provider-consumable URL. Source records
// where the reference came from; nil when the caller supplied a bare URL.
type FilePart struct {
	ID       string
	URL      string
	Mime     string
	Filename string
	Source   FileSource
	Start    int
	End      int
}

func (FilePart) isPart() {}

// ImagePart contains inline image data. Data holds the standard base64
// encoding of the image bytes, the form providers accept on the wire.
type ImagePart struct {
	ID   string
	Data string
	Mime string
}

func (ImagePart) isPart() {}

// AgentPart records a sub-agent invocation within the prompt.
type AgentPart struct {
	ID    string
	Name  string
	Start int
	End   int
}

func (AgentPart) isPart() {}

// PartID returns the identifier for any part variant.
func PartID(p Part) string {
	switch v := p.(type) {
	case TextPart:
		return v.ID
	case FilePart:
		return v.ID
	case ImagePart:
		return v.ID
	case AgentPart:
		return v.ID
	default:
		return ""
	}
}

// FileSource is a sealed interface describing where a file reference came
// from: an inline span of the submitted text, or a file-system path.
type FileSource interface {
	isFileSource()
}

// TextSource is an inline file mention within the submitted text.
type TextSource struct {
	Value string
	Start int
	End   int
}

func (TextSource) isFileSource() {}

// PathSource is a file-system path, optionally restricted to a line range.
// The path may contain a doublestar glob pattern; resolution expands it.
type PathSource struct {
	Path  string
	Range *LineRange
}

func (PathSource) isFileSource() {}

// LineRange selects lines [Start, End], 1-based and inclusive.
type LineRange struct {
	Start int
	End   int
}

// Interface compliance checks.
var (
	_ Part = TextPart{}
	_ Part = FilePart{}
	_ Part = ImagePart{}
	_ Part = AgentPart{}

	_ FileSource = TextSource{}
	_ FileSource = PathSource{}
)
