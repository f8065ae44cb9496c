package window

import (
	"fmt"
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"github.com/zurustar/kagami/pkg/host"
)

var (
	overlayLabelColor = color.RGBA{0, 0, 0, 180}
	overlayBoxColor   = color.RGBA{0, 255, 0, 255}
	overlayFadedColor = color.RGBA{255, 0, 0, 128}
)

const (
	overlayCharWidth  = 6
	overlayCharHeight = 16
	overlayPadding    = 2
)

// OverlayToggleKey デバッグオーバーレイの表示切り替えキー
const OverlayToggleKey = ebiten.KeyF3

// statsSource is implemented by stages that report player counters.
type statsSource interface {
	Stats() host.Stats
}

// overlay draws bounding boxes and names of the display list and a line
// of player counters.
type overlay struct {
	enabled bool
}

func (o *overlay) toggle() { o.enabled = !o.enabled }

func (o *overlay) draw(screen *ebiten.Image, items []host.DrawItem, stage Stage) {
	if !o.enabled {
		return
	}
	for _, item := range items {
		c := overlayBoxColor
		if item.Alpha < 1 {
			c = overlayFadedColor
		}
		drawBox(screen, float32(item.X), float32(item.Y), float32(item.Width), float32(item.Height), c)
		drawLabel(screen, itemLabel(item), int(item.X), int(item.Y))
	}
	if s, ok := stage.(statsSource); ok {
		drawLabel(screen, statsLine(s.Stats()), 0, 0)
	}
}

func itemLabel(item host.DrawItem) string {
	name := item.Name
	if name == "" {
		name = "?"
	}
	label := fmt.Sprintf("%s (%.0f,%.0f)", name, item.X, item.Y)
	if item.Alpha < 1 {
		label += fmt.Sprintf(" a=%.2f", item.Alpha)
	}
	return label
}

func statsLine(s host.Stats) string {
	return fmt.Sprintf("tick %d frame %d live %d gc %d timers %d loads %d sounds %d errors %d",
		s.Ticks, s.Frame, s.GC.Live, s.GC.Cycles, s.Timers, s.Loads, s.Sounds, s.Uncaught)
}

func drawBox(screen *ebiten.Image, x, y, w, h float32, c color.Color) {
	vector.FillRect(screen, x, y, w, 1, c, false)
	vector.FillRect(screen, x, y+h-1, w, 1, c, false)
	vector.FillRect(screen, x, y, 1, h, c, false)
	vector.FillRect(screen, x+w-1, y, 1, h, c, false)
}

func drawLabel(screen *ebiten.Image, label string, x, y int) {
	w := float32(len(label)*overlayCharWidth + overlayPadding*2)
	h := float32(overlayCharHeight + overlayPadding*2)
	vector.FillRect(screen, float32(x-overlayPadding), float32(y-overlayPadding), w, h, overlayLabelColor, false)
	ebitenutil.DebugPrintAt(screen, label, x, y)
}
