package friends

import (
	"errors"

	"go.uber.org/zap"
	"golang.org/x/image/font"

	"inkframe/internal/eink"
)

// ErrEmptyDialogue is returned for a quote with no dialogue lines.
var ErrEmptyDialogue = errors.New("quote has no dialogue")

const (
	cardFontSize = 30
	textInset    = 60 // total horizontal margin for wrapped dialogue
	footerMargin = 20 // gap between footer baseline area and bottom edge
)

// CardRenderer draws quote cards. The card is composed in landscape (panel
// height x panel width) and rotated into portrait for the panel.
type CardRenderer struct {
	width  int // landscape card width
	height int // landscape card height
	face   font.Face
	logger *zap.Logger
}

// NewCardRenderer builds a renderer for a panel of the given portrait size.
// When the font file cannot be loaded the built-in bitmap face is used.
func NewCardRenderer(panelWidth, panelHeight int, fontPath string, logger *zap.Logger) *CardRenderer {
	face, err := eink.LoadFace(fontPath, cardFontSize)
	if err != nil {
		logger.Warn("quote card font unavailable, using built-in face", zap.Error(err))
		face = eink.FallbackFace()
	}
	return &CardRenderer{
		width:  panelHeight,
		height: panelWidth,
		face:   face,
		logger: logger,
	}
}

// Render draws the quote card and returns it as a portrait PNG: dialogue
// lines centered in the space above the footer, the episode attribution
// centered near the bottom edge.
func (r *CardRenderer) Render(q Quote) ([]byte, error) {
	if len(q.Dialogue) == 0 {
		return nil, ErrEmptyDialogue
	}

	c := eink.NewCanvas(r.width, r.height, r.face)
	maxWidth := r.width - textInset
	lineHeight := c.LineHeight()

	var lines []string
	for _, d := range q.Dialogue {
		lines = append(lines, c.WrapText(d.Format(), maxWidth)...)
	}

	footer := q.Footer()
	footerHeight := lineHeight
	blockHeight := len(lines) * lineHeight
	available := r.height - footerHeight - footerMargin

	y := (available - blockHeight) / 2
	for _, line := range lines {
		c.DrawCenteredText(y, line)
		y += lineHeight
	}
	c.DrawCenteredText(r.height-footerHeight-footerMargin, footer)

	return c.EncodeRotatedPNG()
}
