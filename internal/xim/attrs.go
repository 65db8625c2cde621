package xim

import (
	"encoding/binary"
	"fmt"
)

// Attribute value types.
const (
	typeSeparator  = 0
	typeCARD32     = 3
	typeWindow     = 5
	typeXIMStyles  = 10
	typeXRectangle = 11
	typeXPoint     = 12
	typeXFontSet   = 13
	typeNest       = 0x7fff
)

// Input styles.
const (
	PreeditCallbacks = 0x0002
	PreeditPosition  = 0x0004
	PreeditNothing   = 0x0008
	StatusCallbacks  = 0x0200
	StatusNothing    = 0x0400
)

// SupportedStyles lists the input styles offered to clients.
var SupportedStyles = []uint32{
	PreeditPosition | StatusNothing,
	PreeditCallbacks | StatusNothing,
	PreeditNothing | StatusNothing,
	PreeditPosition | StatusCallbacks,
	PreeditCallbacks | StatusCallbacks,
	PreeditNothing | StatusCallbacks,
}

// Encoding is the only text encoding the server accepts.
const Encoding = "COMPOUND_TEXT"

// Preedit states.
const (
	preeditEnable  = 1
	preeditDisable = 2
)

type attr struct {
	id   uint16
	typ  uint16
	name string
}

const imAttrQueryInputStyle = 0

var imAttrs = []attr{
	{imAttrQueryInputStyle, typeXIMStyles, "queryInputStyle"},
}

// IC attribute ids as announced in OPEN_REPLY.
const (
	icInputStyle uint16 = iota
	icClientWindow
	icFocusWindow
	icFilterEvents
	icPreeditAttributes
	icStatusAttributes
	icFontSet
	icArea
	icAreaNeeded
	icColormap
	icStdColormap
	icForeground
	icBackground
	icBackgroundPixmap
	icSpotLocation
	icLineSpace
	icSeparatorOfNestedList
	icPreeditState
)

var icAttrs = []attr{
	{icInputStyle, typeCARD32, "inputStyle"},
	{icClientWindow, typeWindow, "clientWindow"},
	{icFocusWindow, typeWindow, "focusWindow"},
	{icFilterEvents, typeCARD32, "filterEvents"},
	{icPreeditAttributes, typeNest, "preeditAttributes"},
	{icStatusAttributes, typeNest, "statusAttributes"},
	{icFontSet, typeXFontSet, "fontSet"},
	{icArea, typeXRectangle, "area"},
	{icAreaNeeded, typeXRectangle, "areaNeeded"},
	{icColormap, typeCARD32, "colorMap"},
	{icStdColormap, typeCARD32, "stdColorMap"},
	{icForeground, typeCARD32, "foreground"},
	{icBackground, typeCARD32, "background"},
	{icBackgroundPixmap, typeCARD32, "backgroundPixmap"},
	{icSpotLocation, typeXPoint, "spotLocation"},
	{icLineSpace, typeCARD32, "lineSpace"},
	{icSeparatorOfNestedList, typeSeparator, "separatorofNestedList"},
	{icPreeditState, typeCARD32, "preeditState"},
}

func icAttrName(id uint16) string {
	if int(id) < len(icAttrs) {
		return icAttrs[id].name
	}
	return fmt.Sprintf("attr%d", id)
}

// encodeAttrList writes LISTofXIMATTR (or XICATTR, which has the same shape).
func encodeAttrList(order binary.ByteOrder, list []attr) []byte {
	w := newWriter(order)
	for _, a := range list {
		w.u16(a.id)
		w.u16(a.typ)
		w.u16(uint16(len(a.name)))
		w.bytes([]byte(a.name))
		w.zeros(pad(2 + len(a.name)))
	}
	return w.buf
}

// attrValue is one XICATTRIBUTE.
type attrValue struct {
	id    uint16
	value []byte
}

func parseAttrValues(order binary.ByteOrder, buf []byte) ([]attrValue, error) {
	r := newReader(order, buf)
	var out []attrValue
	for r.remaining() >= 4 {
		id := r.u16()
		n := int(r.u16())
		v := r.bytes(n)
		r.skip(pad(n))
		if r.err != nil {
			return nil, r.err
		}
		out = append(out, attrValue{id: id, value: v})
	}
	return out, nil
}

func encodeAttrValues(order binary.ByteOrder, list []attrValue) []byte {
	w := newWriter(order)
	for _, a := range list {
		w.u16(a.id)
		w.u16(uint16(len(a.value)))
		w.bytes(a.value)
		w.zeros(pad(len(a.value)))
	}
	return w.buf
}

func card32(order binary.ByteOrder, v uint32) []byte {
	b := make([]byte, 4)
	order.PutUint32(b, v)
	return b
}

func readCard32(order binary.ByteOrder, v []byte) (uint32, error) {
	if len(v) < 4 {
		return 0, fmt.Errorf("%w: CARD32 value is %d bytes", ErrMalformed, len(v))
	}
	return order.Uint32(v), nil
}

// encodeStyles writes an XIMStyles value.
func encodeStyles(order binary.ByteOrder, styles []uint32) []byte {
	w := newWriter(order)
	w.u16(uint16(len(styles)))
	w.u16(0)
	for _, s := range styles {
		w.u32(s)
	}
	return w.buf
}

type point struct{ x, y int16 }

func readPoint(order binary.ByteOrder, v []byte) (point, error) {
	if len(v) < 4 {
		return point{}, fmt.Errorf("%w: XPoint value is %d bytes", ErrMalformed, len(v))
	}
	return point{x: int16(order.Uint16(v[0:2])), y: int16(order.Uint16(v[2:4]))}, nil
}

type rectangle struct {
	x, y          int16
	width, height uint16
}

func readRectangle(order binary.ByteOrder, v []byte) (rectangle, error) {
	if len(v) < 8 {
		return rectangle{}, fmt.Errorf("%w: XRectangle value is %d bytes", ErrMalformed, len(v))
	}
	return rectangle{
		x:      int16(order.Uint16(v[0:2])),
		y:      int16(order.Uint16(v[2:4])),
		width:  order.Uint16(v[4:6]),
		height: order.Uint16(v[6:8]),
	}, nil
}
