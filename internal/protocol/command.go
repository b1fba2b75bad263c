package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"villagecraft.ai/internal/plan/fill"
	"villagecraft.ai/internal/plan/geom"
)

// FillCommand renders the chat form of a primitive:
// "/fill x1 y1 z1 x2 y2 z2 material".
func FillCommand(p fill.Primitive) string {
	b := p.Box
	return fmt.Sprintf("/fill %d %d %d %d %d %d %s", b.MinX, b.MinY, b.MinZ, b.MaxX, b.MaxY, b.MaxZ, p.Material)
}

// ParseFillCommand is the inverse of FillCommand. Corners may come in any
// order.
func ParseFillCommand(s string) (fill.Primitive, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) != 8 || fields[0] != "/fill" {
		return fill.Primitive{}, fmt.Errorf("bad fill command %q", s)
	}
	var c [6]int
	for i := range c {
		v, err := strconv.Atoi(fields[i+1])
		if err != nil {
			return fill.Primitive{}, fmt.Errorf("bad fill coordinate %q: %w", fields[i+1], err)
		}
		c[i] = v
	}
	return fill.Primitive{
		Box:      geom.NewBox(c[0], c[1], c[2], c[3], c[4], c[5]),
		Material: fields[7],
	}, nil
}

func NewFill(id string, p fill.Primitive) FillMsg {
	b := p.Box
	return FillMsg{
		Type:            TypeFill,
		ProtocolVersion: Version,
		ID:              id,
		Min:             [3]int{b.MinX, b.MinY, b.MinZ},
		Max:             [3]int{b.MaxX, b.MaxY, b.MaxZ},
		Material:        p.Material,
		Command:         FillCommand(p),
	}
}

// Primitive converts a received FILL back into a primitive.
func (m FillMsg) Primitive() fill.Primitive {
	return fill.Primitive{
		Box:      geom.NewBox(m.Min[0], m.Min[1], m.Min[2], m.Max[0], m.Max[1], m.Max[2]),
		Material: m.Material,
	}
}
