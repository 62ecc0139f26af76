package render

// Source kinds a session can render.
const (
	KindImage  = "image"
	KindVideo  = "video"
	KindStream = "stream"
)
