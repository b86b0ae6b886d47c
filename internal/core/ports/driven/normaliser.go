package driven

// Normaliser extracts indexable text from a document format.
type Normaliser interface {
	// Extensions returns the lower-case file extensions handled, with the dot.
	Extensions() []string

	// Normalise converts raw content into plain text. name is the file name,
	// used when the content carries no title of its own.
	Normalise(name string, content []byte) (NormaliseResult, error)
}

// NormaliseResult is the output of a Normaliser.
type NormaliseResult struct {
	// Text is the plain text to embed.
	Text string

	// Title is the document title, or "" when none could be derived.
	Title string

	// Format names the source format, e.g. "markdown".
	Format string
}
