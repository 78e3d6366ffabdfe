package hub

import "math/rand"

// allowedColors is the palette new identities draw from. A few hues appear
// twice to weight the common ones.
var allowedColors = []string{
	"#f23d3d", // red
	"#f27c3d", // orange
	"#f2c83d", // yellow
	"#70f23d", // green
	"#3deff2", // cyan
	"#3d5bf2", // blue
	"#733df2", // purple
	"#d43df2", // magenta
	"#f23d82", // hot pink
	"#542c13", // brown
	"#541313", // dark red
	"#1f5413", // dark green
	"#ffef8a", // banana
	"#8b4513", // saddle brown
	"#228b22", // forest green
	"#ff4500", // orange red
	"#20b2aa", // light sea green
	"#6a5acd", // slate blue
	"#c71585", // medium violet red
	"#bdb76b", // dark khaki
	"#4682b4", // steel blue
	"#2f4f4f", // dark slate gray
	"#ff69b4", // hot pink
	"#71e3b0", // turquoise
	"#94daff", // pearl blue
	"#d8bfd8", // thistle
	"#d2b48c", // tan
	"#f23d3d", // red
	"#f27c3d", // orange
	"#f2c83d", // yellow
	"#70f23d", // green
	"#3deff2", // cyan
	"#556b2f", // dark olive green
	"#8fbc8f", // dark sea green
	"#b22222", // firebrick
	"#ff6347", // tomato
	"#7b68ee", // medium slate blue
	"#ffb6c1", // light pink
	"#483d8b", // dark slate blue
	"#6495ed", // cornflower blue
	"#00ced1", // dark turquoise
	"#9acd32", // yellow green
	"#ffd700", // gold
	"#3d5bf2", // blue
	"#733df2", // purple
	"#d43df2", // magenta
	"#f23d82", // hot pink
	"#133554", // dark blue
	"#135452", // dark cyan
	"#411354", // dark purple
	"#999999", // gray
	"#f0f0f0", // white (almost)
	"#1f1f1f", // black (almost)
}

func randomColor() string {
	return allowedColors[rand.Intn(len(allowedColors))]
}
