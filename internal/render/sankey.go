// Package render draws the funnel sankey diagrams as PNG images. Layout uses
// normalized [0,1] coordinates with y pointing up; flows are smooth bands
// between node edges, nodes are solid bars with a count and a label.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ignite/offertracker/internal/funnel"
)

// DefaultWatermark is stamped on AI sankeys unless overridden.
const DefaultWatermark = "Generated by OfferTracker"

const (
	canvasW = 1400
	canvasH = 900
	nodeW   = 0.024
)

type node struct {
	name  string
	x, y  float64 // center, normalized, y up
	h     float64
	color color.RGBA
}

type flow struct {
	src, dst string
	value    int
	color    color.RGBA
}

var (
	colGray       = color.RGBA{0xBD, 0xBD, 0xBD, 0xFF}
	colTeal       = color.RGBA{0x5F, 0xB7, 0xB2, 0xFF}
	colRed        = color.RGBA{0xE1, 0x5B, 0x61, 0xFF}
	colOrange     = color.RGBA{0xF2, 0xA3, 0x4A, 0xFF}
	colPurple     = color.RGBA{0xA6, 0x75, 0xB0, 0xFF}
	colBlue       = color.RGBA{0x4C, 0x79, 0xA8, 0xFF}
	colGreen      = color.RGBA{0x4C, 0xAF, 0x50, 0xFF}
	colDarkGray   = color.RGBA{0x4A, 0x4A, 0x4A, 0xFF}
	colDarkRed    = color.RGBA{0xD1, 0x49, 0x5B, 0xFF}
	colTitleBox   = color.RGBA{0x6E, 0x72, 0x6D, 0xFF}
	colLabel      = color.RGBA{0x20, 0x20, 0x20, 0xFF}
	colWatermark  = color.RGBA{0x77, 0x77, 0x77, 0xFF}
	flowTealSoft  = color.RGBA{0x88, 0xCE, 0xC9, 0xFF}
	flowRedSoft   = color.RGBA{0xF1, 0xA8, 0xAE, 0xFF}
	flowPurpSoft  = color.RGBA{0xC9, 0xB1, 0xD2, 0xFF}
	flowOrangSoft = color.RGBA{0xF6, 0xC4, 0x88, 0xFF}
	flowBlueSoft  = color.RGBA{0xA9, 0xC1, 0xDA, 0xFF}
	flowBlueSoft2 = color.RGBA{0xB8, 0xCC, 0xE2, 0xFF}
	flowGreenSoft = color.RGBA{0xAA, 0xDA, 0xA6, 0xFF}
	flowGraySoft  = color.RGBA{0x8D, 0x8D, 0x8D, 0xFF}
	flowRedSoft2  = color.RGBA{0xF0, 0x8A, 0x96, 0xFF}
)

type canvas struct {
	img *image.RGBA
}

func newCanvas() *canvas {
	img := image.NewRGBA(image.Rect(0, 0, canvasW, canvasH))
	for i := range img.Pix {
		img.Pix[i] = 0xFF
	}
	return &canvas{img: img}
}

func (c *canvas) px(nx float64) int { return int(nx * canvasW) }
func (c *canvas) py(ny float64) int { return int((1 - ny) * canvasH) }

func (c *canvas) blend(x, y int, col color.RGBA, alpha float64) {
	if x < 0 || y < 0 || x >= canvasW || y >= canvasH {
		return
	}
	i := c.img.PixOffset(x, y)
	mix := func(dst uint8, src uint8) uint8 {
		return uint8(float64(src)*alpha + float64(dst)*(1-alpha))
	}
	c.img.Pix[i+0] = mix(c.img.Pix[i+0], col.R)
	c.img.Pix[i+1] = mix(c.img.Pix[i+1], col.G)
	c.img.Pix[i+2] = mix(c.img.Pix[i+2], col.B)
}

func (c *canvas) fillRect(x0, y0, x1, y1 float64, col color.RGBA) {
	px0, px1 := c.px(x0), c.px(x1)
	py0, py1 := c.py(y1), c.py(y0) // y up: y1 is the top edge
	for y := py0; y < py1; y++ {
		for x := px0; x < px1; x++ {
			c.blend(x, y, col, 1.0)
		}
	}
}

// drawFlow fills a smooth band from the source edge span to the target edge
// span, easing the top and bottom boundaries across the horizontal run.
func (c *canvas) drawFlow(x0, x1, y0Top, y0Bot, y1Top, y1Bot float64, col color.RGBA) {
	px0, px1 := c.px(x0), c.px(x1)
	if px1 <= px0 {
		return
	}
	for x := px0; x <= px1; x++ {
		t := float64(x-px0) / float64(px1-px0)
		s := t * t * (3 - 2*t)
		topY := y0Top + (y1Top-y0Top)*s
		botY := y0Bot + (y1Bot-y0Bot)*s
		pyTop, pyBot := c.py(topY), c.py(botY)
		for y := pyTop; y < pyBot; y++ {
			c.blend(x, y, col, 0.52)
		}
	}
}

func (c *canvas) drawText(nx, ny float64, text string, col color.RGBA, centered bool, rightAligned bool) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	x := c.px(nx)
	if centered {
		x -= width / 2
	}
	if rightAligned {
		x -= width
	}
	d := &font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, c.py(ny)+face.Ascent/2),
	}
	d.DrawString(text)
}

func (c *canvas) drawNodes(nodes map[string]*node, order []string, vals map[string]int) {
	for _, key := range order {
		n, ok := nodes[key]
		if !ok {
			continue
		}
		c.fillRect(n.x-nodeW/2, n.y-n.h/2, n.x+nodeW/2, n.y+n.h/2, n.color)
		c.drawText(n.x+0.038, n.y+0.018, fmt.Sprintf("%d", vals[key]), colLabel, false, false)
		c.drawText(n.x+0.038, n.y-0.018, n.name, colLabel, false, false)
	}
}

func (c *canvas) drawTitle(title string) {
	width := font.MeasureString(basicfont.Face7x13, title).Ceil()
	boxW := float64(width+40) / canvasW
	c.fillRect(0.5-boxW/2, 0.035, 0.5+boxW/2, 0.085, colTitleBox)
	c.drawText(0.5, 0.06, title, color.RGBA{0xFF, 0xFF, 0xFF, 0xFF}, true, false)
}

func (c *canvas) drawWatermark(watermark string) {
	if watermark == "" {
		return
	}
	c.drawText(0.985, 0.018, watermark, colWatermark, false, true)
}

func (c *canvas) encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, c.img); err != nil {
		return nil, fmt.Errorf("render: encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

type cursorSet map[string]float64

func newCursors(nodes map[string]*node) cursorSet {
	cs := cursorSet{}
	for k, n := range nodes {
		cs[k] = n.y + n.h/2
	}
	return cs
}

func (cs cursorSet) alloc(key string, h float64) (float64, float64) {
	y0 := cs[key]
	y1 := y0 - h
	cs[key] = y1
	return y0, y1
}

func drawFlows(c *canvas, nodes map[string]*node, flows []flow, scale float64) {
	outCursor := newCursors(nodes)
	inCursor := newCursors(nodes)
	for _, f := range flows {
		if f.value <= 0 {
			continue
		}
		src, okS := nodes[f.src]
		dst, okD := nodes[f.dst]
		if !okS || !okD {
			continue
		}
		h := float64(f.value) * scale
		y0t, y0b := outCursor.alloc(f.src, h)
		y1t, y1b := inCursor.alloc(f.dst, h)
		c.drawFlow(src.x+nodeW/2, dst.x-nodeW/2, y0t, y0b, y1t, y1b, f.color)
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RenderFunnelSankey draws the rule-path funnel diagram.
func RenderFunnelSankey(m funnel.Metrics, title string) ([]byte, error) {
	applications := max0(m.Applications)
	replies := clampInt(m.Replies, 0, applications)
	noReplies := max0(m.NoReplies)
	oa := clampInt(m.OA, 0, replies)
	withdrawn := clampInt(m.Withdrawn, 0, max0(replies-oa))
	interviews := max0(m.Interviews)
	offers := clampInt(m.Offers, 0, interviews)
	rejected := max0(m.Rejected)

	oaToInterviews := minInt(oa, interviews)
	directInterviews := max0(interviews - oaToInterviews)
	interviewToRejected := minInt(rejected, max0(interviews-offers))

	maxTotal := applications
	if maxTotal < 1 {
		maxTotal = 1
	}
	scale := 0.56 / float64(maxTotal)

	nodes := map[string]*node{
		"applications": {"Applications", 0.08, 0.50, float64(applications) * scale, colGray},
		"replies":      {"Replies", 0.30, 0.80, float64(replies) * scale, colTeal},
		"no_replies":   {"No Replies", 0.30, 0.40, float64(noReplies) * scale, colRed},
		"withdrawn":    {"Withdrawn", 0.50, 0.78, float64(withdrawn) * scale, colOrange},
		"oa":           {"OA", 0.50, 0.66, float64(oa) * scale, colPurple},
		"interviews":   {"Interviews", 0.66, 0.86, float64(interviews) * scale, colBlue},
		"offers":       {"Offers", 0.86, 0.86, float64(offers) * scale, colGreen},
		"rejected":     {"Rejected", 0.86, 0.66, float64(rejected) * scale, colRed},
	}
	flows := []flow{
		{"applications", "replies", replies, flowTealSoft},
		{"applications", "no_replies", noReplies, flowRedSoft},
		{"replies", "oa", oa, flowPurpSoft},
		{"replies", "withdrawn", withdrawn, flowOrangSoft},
		{"oa", "interviews", oaToInterviews, flowBlueSoft2},
		{"replies", "interviews", directInterviews, flowBlueSoft},
		{"interviews", "offers", offers, flowGreenSoft},
		{"interviews", "rejected", interviewToRejected, flowRedSoft},
	}
	vals := map[string]int{
		"applications": applications,
		"replies":      replies,
		"no_replies":   noReplies,
		"withdrawn":    withdrawn,
		"oa":           oa,
		"interviews":   interviews,
		"offers":       offers,
		"rejected":     rejected,
	}

	c := newCanvas()
	drawFlows(c, nodes, flows, scale)
	c.drawNodes(nodes, []string{
		"applications", "replies", "no_replies", "withdrawn", "oa", "interviews", "offers", "rejected",
	}, vals)
	c.drawTitle(title)
	return c.encode()
}

// RenderAISankey draws the AI-path funnel. Counts are clamped in order so
// no flow can exceed its upstream node, and zero-valued nodes are omitted.
func RenderAISankey(s funnel.AISummary, title, watermark string) ([]byte, error) {
	applications := max0(s.Applications)
	interviews := max0(s.Interviews)
	noResponse := max0(s.NoResponse)
	offers := max0(s.Offers)
	rejectedTotal := max0(s.RejectionsTotal)
	rejectedDirect := max0(s.RejectionsWithoutInterview)
	rejectedAfterInterview := max0(rejectedTotal - rejectedDirect)

	rejectedDirect = clampInt(rejectedDirect, 0, applications)
	noResponse = clampInt(noResponse, 0, max0(applications-rejectedDirect))
	interviews = clampInt(interviews, 0, max0(applications-rejectedDirect-noResponse))
	offers = clampInt(offers, 0, interviews)
	rejectedAfterInterview = clampInt(rejectedAfterInterview, 0, max0(interviews-offers))

	maxTotal := applications
	if maxTotal < 1 {
		maxTotal = 1
	}
	scale := 0.62 / float64(maxTotal)

	nodes := map[string]*node{
		"applications": {"Applications", 0.08, 0.50, float64(applications) * scale, colGray},
	}

	stageX := 0.40
	stageGap := 0.03
	stageCursor := 0.88
	if interviews > 0 {
		h := float64(interviews) * scale
		nodes["interviews"] = &node{"Interviews", stageX, stageCursor - h/2, h, colBlue}
		stageCursor -= h + stageGap
	}
	if rejectedDirect > 0 {
		h := float64(rejectedDirect) * scale
		nodes["rejected_direct"] = &node{"Rejected (Direct)", stageX, stageCursor - h/2, h, colRed}
		stageCursor -= h + stageGap
	}
	if noResponse > 0 {
		h := float64(noResponse) * scale
		nodes["no_response"] = &node{"No Response", stageX, stageCursor - h/2, h, colDarkGray}
	}
	if rejectedAfterInterview > 0 {
		nodes["rejected_after_interview"] = &node{"Rejected (After Interview)", 0.70, 0.62, float64(rejectedAfterInterview) * scale, colDarkRed}
	}
	if offers > 0 {
		nodes["offers"] = &node{"Offers", 0.84, 0.82, float64(offers) * scale, colGreen}
	}

	flows := []flow{
		{"applications", "interviews", interviews, flowBlueSoft},
		{"applications", "no_response", noResponse, flowGraySoft},
		{"applications", "rejected_direct", rejectedDirect, flowRedSoft},
		{"interviews", "offers", offers, flowGreenSoft},
		{"interviews", "rejected_after_interview", rejectedAfterInterview, flowRedSoft2},
	}
	vals := map[string]int{
		"applications":             applications,
		"interviews":               interviews,
		"no_response":              noResponse,
		"offers":                   offers,
		"rejected_direct":          rejectedDirect,
		"rejected_after_interview": rejectedAfterInterview,
	}

	c := newCanvas()
	drawFlows(c, nodes, flows, scale)
	c.drawNodes(nodes, []string{
		"applications", "interviews", "rejected_direct", "no_response", "rejected_after_interview", "offers",
	}, vals)
	c.drawTitle(title)
	c.drawWatermark(watermark)
	return c.encode()
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
