package render

// Vec3i is a world cell coordinate.
type Vec3i struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Cell maps pixel (px, py) of a frame rendered at origin o to its world cell.
// Frames lie on the horizontal plane at height o.Y.
func (o Vec3i) Cell(px, py int) Vec3i {
	return Vec3i{X: o.X + px, Y: o.Y, Z: o.Z + py}
}

// Rect is a render footprint: the Width x Height cells starting at Origin.
type Rect struct {
	Origin Vec3i `json:"origin"`
	Width  int   `json:"width"`
	Height int   `json:"height"`
}
