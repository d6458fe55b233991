package app

import (
	"errors"
	"fmt"
	"image/color"

	"tinygo.org/x/drivers"
	"tinygo.org/x/tinyfont"

	"starlet/hal"
	"starlet/kernel"
)

type page uint8

const (
	pageThreads page = iota
	pageHeaps
	pageQueues
)

var (
	colorBG     = color.RGBA{R: 0x10, G: 0x14, B: 0x20, A: 255}
	colorTitle  = color.RGBA{R: 0xFF, G: 0xD0, B: 0x40, A: 255}
	colorText   = color.RGBA{R: 0xE0, G: 0xE0, B: 0xE0, A: 255}
	colorDim    = color.RGBA{R: 0x80, G: 0x88, B: 0x98, A: 255}
	colorFault  = color.RGBA{R: 0xFF, G: 0x50, B: 0x50, A: 255}
	colorHeader = color.RGBA{R: 0x60, G: 0xC0, B: 0xFF, A: 255}
)

// monitor draws kernel tables to the framebuffer. F1 to F3 switch pages,
// Up and Down scroll.
type monitor struct {
	fb   hal.Framebuffer
	d    fbDisplay
	font tinyfont.Fonter

	fontWidth  int16
	lineHeight int16
	cols       int
	rows       int

	page   page
	scroll int
}

func newMonitor(fb hal.Framebuffer) (*monitor, error) {
	if fb.Format() != hal.PixelFormatRGB565 {
		return nil, errors.New("unsupported pixel format")
	}
	font := &tinyfont.TomThumb
	_, outboxWidth := tinyfont.LineWidth(font, "0")
	m := &monitor{
		fb:         fb,
		d:          fbDisplay{fb: fb},
		font:       font,
		fontWidth:  int16(outboxWidth),
		lineHeight: int16(font.GetYAdvance()),
	}
	if m.fontWidth <= 0 || m.lineHeight <= 0 {
		return nil, errors.New("font has no metrics")
	}
	m.cols = fb.Width() / int(m.fontWidth)
	m.rows = fb.Height() / int(m.lineHeight)
	return m, nil
}

func (m *monitor) key(code hal.KeyCode) {
	switch code {
	case hal.KeyF1:
		m.page, m.scroll = pageThreads, 0
	case hal.KeyF2:
		m.page, m.scroll = pageHeaps, 0
	case hal.KeyF3:
		m.page, m.scroll = pageQueues, 0
	case hal.KeyUp:
		if m.scroll > 0 {
			m.scroll--
		}
	case hal.KeyDown:
		m.scroll++
	}
}

type line struct {
	text string
	c    color.RGBA
}

func (m *monitor) draw(s *System) error {
	snap := s.k.Snapshot()
	lines := m.lines(s, snap)

	m.fb.ClearRGB(colorBG.R, colorBG.G, colorBG.B)
	title := fmt.Sprintf("STARLET  tick %d  %s", snap.Tick, [...]string{"F1 THREADS", "F2 HEAPS", "F3 QUEUES"}[m.page])
	m.writeLine(0, title, colorTitle)

	body := lines
	maxBody := m.rows - 2
	if m.scroll > len(body)-1 {
		m.scroll = max(len(body)-1, 0)
	}
	body = body[m.scroll:]
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	for i, l := range body {
		m.writeLine(i+1, l.text, l.c)
	}

	if n := len(s.faults); n > 0 {
		f := s.faults[n-1]
		m.writeLine(m.rows-1, fmt.Sprintf("FAULT tid=%d pid=%d %v", f.Thread, f.Process, f.Value), colorFault)
	} else {
		m.writeLine(m.rows-1, fmt.Sprintf("frames %d  spurious irqs %d", s.frames, snap.Spurious), colorDim)
	}
	return m.fb.Present()
}

func (m *monitor) lines(s *System, snap kernel.Snapshot) []line {
	var out []line
	add := func(c color.RGBA, format string, args ...any) {
		out = append(out, line{fmt.Sprintf(format, args...), c})
	}
	switch m.page {
	case pageThreads:
		add(colorHeader, "TID PID STATE    PRI  PC")
		for _, t := range snap.Threads {
			c := colorText
			if t.State == kernel.ThreadFaulted {
				c = colorFault
			}
			add(c, "%3d %3d %-8s %3d  %08x", t.ID, t.PID, t.State, t.Priority, t.PC)
		}
	case pageHeaps:
		add(colorHeader, "ID PID BASE     FREE/SIZE      BLOCKS F/U")
		for _, h := range snap.Heaps {
			add(colorText, "%2d %3d %08x %7d/%-7d %3d/%d", h.ID, h.PID, uint32(h.Base), h.Free, h.Size, h.FreeBlocks, h.UsedBlocks)
		}
		for _, p := range s.procs {
			add(colorDim, "%s pid=%d heap=%d main=%d", p.spec.name, p.spec.pid, p.heap, p.main)
		}
	case pageQueues:
		add(colorHeader, "ID PID USED/CAP  SEND RECV")
		for _, q := range snap.Queues {
			add(colorText, "%2d %3d %4d/%-4d %4d %4d", q.ID, q.PID, q.Used, q.Capacity, q.Senders, q.Receivers)
		}
		add(colorHeader, "TIMER PID QUEUE PERIOD  ARMED")
		for _, t := range snap.Timers {
			add(colorText, "%5d %3d %5d %7d %t", t.ID, t.PID, t.Queue, t.Period, t.Armed)
		}
	}
	return out
}

func (m *monitor) writeLine(row int, s string, c color.RGBA) {
	if row < 0 || row >= m.rows {
		return
	}
	if len(s) > m.cols {
		s = s[:m.cols]
	}
	y := int16(row+1)*m.lineHeight - 1
	drawText(m.d, m.font, 0, y, s, c)
}

func drawText(d drivers.Displayer, font tinyfont.Fonter, x, y int16, s string, c color.RGBA) {
	tinyfont.WriteLine(d, font, x, y, s, c)
}

// fbDisplay adapts an RGB565 framebuffer to the tinyfont display interface.
type fbDisplay struct {
	fb hal.Framebuffer
}

var _ drivers.Displayer = fbDisplay{}

func (d fbDisplay) Size() (x, y int16) {
	return int16(d.fb.Width()), int16(d.fb.Height())
}

func (d fbDisplay) SetPixel(x, y int16, c color.RGBA) {
	ix, iy := int(x), int(y)
	if ix < 0 || ix >= d.fb.Width() || iy < 0 || iy >= d.fb.Height() {
		return
	}
	buf := d.fb.Buffer()
	off := iy*d.fb.StrideBytes() + ix*2
	if off+1 >= len(buf) {
		return
	}
	pixel := hal.RGB565(c.R, c.G, c.B)
	buf[off] = byte(pixel)
	buf[off+1] = byte(pixel >> 8)
}

func (d fbDisplay) Display() error { return d.fb.Present() }
