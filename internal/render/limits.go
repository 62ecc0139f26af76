package render

// Defaults used when no tuning overrides them.
const (
	DefaultMaxWidth  = 100
	DefaultMaxHeight = 100
	DefaultMaxFPS    = 30

	// MaxDimension bounds either side of a render footprint.
	MaxDimension = 1024
)

// Limits bound every frame a session renders.
type Limits struct {
	MaxWidth  int `json:"max_width" yaml:"max_width"`
	MaxHeight int `json:"max_height" yaml:"max_height"`
	MaxFPS    int `json:"max_fps" yaml:"max_fps"`
}

func DefaultLimits() Limits {
	return Limits{MaxWidth: DefaultMaxWidth, MaxHeight: DefaultMaxHeight, MaxFPS: DefaultMaxFPS}
}

func (l Limits) Validate() error {
	if l.MaxWidth <= 0 || l.MaxHeight <= 0 {
		return Configf("limits", "dimensions must be positive, got %dx%d", l.MaxWidth, l.MaxHeight)
	}
	if l.MaxWidth > MaxDimension || l.MaxHeight > MaxDimension {
		return Configf("limits", "dimensions above %d, got %dx%d", MaxDimension, l.MaxWidth, l.MaxHeight)
	}
	if l.MaxFPS <= 0 {
		return Configf("limits", "fps must be positive, got %d", l.MaxFPS)
	}
	return nil
}
