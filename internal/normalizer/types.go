package normalizer

// Origin identifies which selection surface produced a source image.
type Origin string

const (
	OriginPicker Origin = "picker"
	OriginCamera Origin = "camera"
)

// SourceImage is the raw file selected by the user.
type SourceImage struct {
	Data     []byte
	MIMEType string
	Filename string
	Origin   Origin
}

// NormalizedImage is the bounded-dimension image that is actually uploaded.
// Data is the source bytes untouched when Resized is false.
type NormalizedImage struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
	Resized  bool
}
