package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/paulmach/orb"
	"golang.org/x/image/tiff"
)

// TIFF tags read by the decoder.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPredictor           = 317
	tagPlanarConfiguration = 284
	tagTileWidth           = 322
	tagTileLength          = 323
	tagTileOffsets         = 324
	tagTileByteCounts      = 325
	tagSampleFormat        = 339
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGDALNoData          = 42113
)

const (
	compNone        = 1
	compDeflate     = 8
	compDeflateOld  = 32946
	sampleUint      = 1
	sampleInt       = 2
	sampleFloat     = 3
	maxGridSamples  = 1 << 28
	maxBlockInflate = 1 << 30

	maxSamplesPerPixel = 16
)

var (
	ErrNotTIFF   = errors.New("not a TIFF file")
	ErrBigTIFF   = errors.New("BigTIFF is not supported")
	errFallback  = errors.New("layout needs generic decoder")
	errTruncated = errors.New("truncated TIFF")
	typeSizes    = map[uint16]uint32{1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8}
	knownFormats = map[uint16]bool{sampleUint: true, sampleInt: true, sampleFloat: true}
)

type ifdEntry struct {
	typ   uint16
	count uint32
	raw   []byte
}

type ifd struct {
	bo      binary.ByteOrder
	entries map[uint16]ifdEntry
}

// ParseGeoTIFF decodes the first band of the first image in b. Pixel scale,
// tiepoint or transformation tags give the grid its bounds; GDAL_NODATA
// samples become NaN.
func ParseGeoTIFF(b []byte) (*Grid, error) {
	d, err := readIFD(b)
	if err != nil {
		return nil, fmt.Errorf("parse geotiff: %w", err)
	}

	g, err := d.decodeSamples(b)
	if errors.Is(err, errFallback) {
		g, err = decodeGeneric(b)
	}
	if err != nil {
		return nil, fmt.Errorf("parse geotiff: %w", err)
	}

	if nd, ok := d.noData(); ok {
		for i, v := range g.Values {
			if v == nd {
				g.Values[i] = math.NaN()
			}
		}
	}
	g.Bounds, g.HasBounds = d.bounds(g.Width, g.Height)
	return g, nil
}

func readIFD(b []byte) (*ifd, error) {
	if len(b) < 8 {
		return nil, ErrNotTIFF
	}
	var bo binary.ByteOrder
	switch string(b[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, ErrNotTIFF
	}
	switch bo.Uint16(b[2:4]) {
	case 42:
	case 43:
		return nil, ErrBigTIFF
	default:
		return nil, ErrNotTIFF
	}

	off := bo.Uint32(b[4:8])
	if uint64(off)+2 > uint64(len(b)) {
		return nil, errTruncated
	}
	n := uint32(bo.Uint16(b[off : off+2]))
	if uint64(off)+2+uint64(n)*12 > uint64(len(b)) {
		return nil, errTruncated
	}

	d := &ifd{bo: bo, entries: make(map[uint16]ifdEntry, n)}
	for i := range n {
		e := b[off+2+i*12 : off+2+(i+1)*12]
		tag := bo.Uint16(e[0:2])
		typ := bo.Uint16(e[2:4])
		count := bo.Uint32(e[4:8])
		size, known := typeSizes[typ]
		if !known {
			continue
		}
		total := uint64(size) * uint64(count)
		var raw []byte
		if total <= 4 {
			raw = e[8 : 8+total]
		} else {
			vo := uint64(bo.Uint32(e[8:12]))
			if vo+total > uint64(len(b)) {
				return nil, fmt.Errorf("tag %d: %w", tag, errTruncated)
			}
			raw = b[vo : vo+total]
		}
		d.entries[tag] = ifdEntry{typ: typ, count: count, raw: raw}
	}
	return d, nil
}

// uints returns an integer-typed tag. Missing tags yield nil.
func (d *ifd) uints(tag uint16) []uint64 {
	e, ok := d.entries[tag]
	if !ok {
		return nil
	}
	out := make([]uint64, 0, e.count)
	for i := range int(e.count) {
		switch e.typ {
		case 1, 7:
			out = append(out, uint64(e.raw[i]))
		case 3:
			out = append(out, uint64(d.bo.Uint16(e.raw[i*2:])))
		case 4:
			out = append(out, uint64(d.bo.Uint32(e.raw[i*4:])))
		default:
			return nil
		}
	}
	return out
}

func (d *ifd) uint(tag uint16, def uint64) uint64 {
	if v := d.uints(tag); len(v) > 0 {
		return v[0]
	}
	return def
}

func (d *ifd) doubles(tag uint16) []float64 {
	e, ok := d.entries[tag]
	if !ok || e.typ != 12 {
		return nil
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(d.bo.Uint64(e.raw[i*8:]))
	}
	return out
}

func (d *ifd) ascii(tag uint16) (string, bool) {
	e, ok := d.entries[tag]
	if !ok || e.typ != 2 {
		return "", false
	}
	return strings.TrimRight(string(e.raw), "\x00"), true
}

func (d *ifd) noData() (float64, bool) {
	s, ok := d.ascii(tagGDALNoData)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// bounds derives the geographic extent from the pixel-is-area georeference.
func (d *ifd) bounds(w, h int) (orb.Bound, bool) {
	var sx, sy, x0, y0 float64
	scale, tie := d.doubles(tagModelPixelScale), d.doubles(tagModelTiepoint)
	switch {
	case len(scale) >= 2 && len(tie) >= 6:
		sx, sy = scale[0], scale[1]
		x0 = tie[3] - tie[0]*sx
		y0 = tie[4] + tie[1]*sy
	case len(d.doubles(tagModelTransformation)) == 16:
		m := d.doubles(tagModelTransformation)
		if m[1] != 0 || m[4] != 0 {
			return orb.Bound{}, false
		}
		sx, sy, x0, y0 = m[0], -m[5], m[3], m[7]
	default:
		return orb.Bound{}, false
	}
	if sx <= 0 || sy <= 0 {
		return orb.Bound{}, false
	}
	return orb.Bound{
		Min: orb.Point{x0, y0 - float64(h)*sy},
		Max: orb.Point{x0 + float64(w)*sx, y0},
	}, true
}

// decodeSamples handles uncompressed and deflate images with a plain sample
// layout. Anything else reports errFallback.
func (d *ifd) decodeSamples(b []byte) (*Grid, error) {
	w := int(d.uint(tagImageWidth, 0))
	h := int(d.uint(tagImageLength, 0))
	if w <= 0 || h <= 0 {
		return nil, errors.New("missing image dimensions")
	}
	if uint64(w)*uint64(h) > maxGridSamples {
		return nil, fmt.Errorf("image %dx%d too large", w, h)
	}

	comp := d.uint(tagCompression, compNone)
	if comp != compNone && comp != compDeflate && comp != compDeflateOld {
		return nil, errFallback
	}
	if d.uint(tagPredictor, 1) != 1 {
		return nil, errFallback
	}
	sppRaw := d.uint(tagSamplesPerPixel, 1)
	if sppRaw == 0 || sppRaw > maxSamplesPerPixel {
		return nil, fmt.Errorf("samples per pixel %d out of range", sppRaw)
	}
	spp := int(sppRaw)
	if spp > 1 && d.uint(tagPlanarConfiguration, 1) != 1 {
		return nil, errFallback
	}
	bps := d.uints(tagBitsPerSample)
	if len(bps) == 0 {
		bps = []uint64{1}
	}
	bits := bps[0]
	for _, v := range bps {
		if v != bits {
			return nil, errFallback
		}
	}
	if bits != 8 && bits != 16 && bits != 32 && bits != 64 {
		return nil, errFallback
	}
	format := uint16(d.uint(tagSampleFormat, sampleUint))
	if !knownFormats[format] || (format == sampleFloat && bits < 32) {
		return nil, errFallback
	}

	s := sampler{bo: d.bo, bytes: int(bits / 8), format: format}
	pixelBytes := s.bytes * spp
	g := &Grid{Width: w, Height: h, Values: make([]float64, w*h)}

	if offs := d.uints(tagTileOffsets); offs != nil {
		twRaw := d.uint(tagTileWidth, 0)
		thRaw := d.uint(tagTileLength, 0)
		counts := d.uints(tagTileByteCounts)
		if twRaw == 0 || thRaw == 0 || len(counts) != len(offs) {
			return nil, errors.New("bad tile layout")
		}
		// Tiles are multiples of 16 and never need to span more than the image.
		if twRaw > roundUp16(w) || thRaw > roundUp16(h) {
			return nil, fmt.Errorf("tile %dx%d larger than image %dx%d", twRaw, thRaw, w, h)
		}
		tw, th := int(twRaw), int(thRaw)
		tileBytes, err := blockBytes(tw, th, pixelBytes)
		if err != nil {
			return nil, err
		}
		across := (w + tw - 1) / tw
		down := (h + th - 1) / th
		if len(offs) < across*down {
			return nil, fmt.Errorf("have %d tiles, need %d", len(offs), across*down)
		}
		for ty := range down {
			for tx := range across {
				i := ty*across + tx
				block, err := readBlock(b, offs[i], counts[i], comp, tileBytes)
				if err != nil {
					return nil, fmt.Errorf("tile %d: %w", i, err)
				}
				for r := 0; r < th && ty*th+r < h; r++ {
					for c := 0; c < tw && tx*tw+c < w; c++ {
						p := (r*tw + c) * pixelBytes
						if p+s.bytes > len(block) {
							return nil, fmt.Errorf("tile %d: %w", i, errTruncated)
						}
						g.Values[(ty*th+r)*w+tx*tw+c] = s.at(block[p:])
					}
				}
			}
		}
		return g, nil
	}

	offs := d.uints(tagStripOffsets)
	counts := d.uints(tagStripByteCounts)
	if len(offs) == 0 || len(counts) != len(offs) {
		return nil, errors.New("bad strip layout")
	}
	rps := int(d.uint(tagRowsPerStrip, uint64(h)))
	if rps <= 0 || rps > h {
		rps = h
	}
	for i := range offs {
		row0 := i * rps
		if row0 >= h {
			break
		}
		rows := min(rps, h-row0)
		want, err := blockBytes(rows, w, pixelBytes)
		if err != nil {
			return nil, err
		}
		block, err := readBlock(b, offs[i], counts[i], comp, want)
		if err != nil {
			return nil, fmt.Errorf("strip %d: %w", i, err)
		}
		for r := range rows {
			for c := range w {
				p := (r*w + c) * pixelBytes
				if p+s.bytes > len(block) {
					return nil, fmt.Errorf("strip %d: %w", i, errTruncated)
				}
				g.Values[(row0+r)*w+c] = s.at(block[p:])
			}
		}
	}
	return g, nil
}

func roundUp16(n int) uint64 { return (uint64(n) + 15) &^ 15 }

// blockBytes is rows*cols*pixelBytes, rejected when it exceeds what a block
// may inflate to.
func blockBytes(rows, cols, pixelBytes int) (int, error) {
	n := uint64(rows) * uint64(cols)
	if n > maxBlockInflate || n*uint64(pixelBytes) > maxBlockInflate {
		return 0, fmt.Errorf("block of %dx%d samples too large", rows, cols)
	}
	return int(n) * pixelBytes, nil
}

// readBlock returns at least want bytes of decoded block data.
func readBlock(b []byte, off, n, comp uint64, want int) ([]byte, error) {
	if off+n > uint64(len(b)) {
		return nil, errTruncated
	}
	raw := b[off : off+n]
	if comp == compNone {
		if len(raw) < want {
			return nil, errTruncated
		}
		return raw, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	defer func() { _ = zr.Close() }()
	out, err := io.ReadAll(io.LimitReader(zr, maxBlockInflate))
	if err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if len(out) < want {
		return nil, errTruncated
	}
	return out, nil
}

type sampler struct {
	bo     binary.ByteOrder
	bytes  int
	format uint16
}

func (s sampler) at(p []byte) float64 {
	switch s.format {
	case sampleFloat:
		if s.bytes == 4 {
			return float64(math.Float32frombits(s.bo.Uint32(p)))
		}
		return math.Float64frombits(s.bo.Uint64(p))
	case sampleInt:
		switch s.bytes {
		case 1:
			return float64(int8(p[0]))
		case 2:
			return float64(int16(s.bo.Uint16(p)))
		case 4:
			return float64(int32(s.bo.Uint32(p)))
		default:
			return float64(int64(s.bo.Uint64(p)))
		}
	default:
		switch s.bytes {
		case 1:
			return float64(p[0])
		case 2:
			return float64(s.bo.Uint16(p))
		case 4:
			return float64(s.bo.Uint32(p))
		default:
			return float64(s.bo.Uint64(p))
		}
	}
}

// decodeGeneric covers compressions and predictors the sample reader skips,
// reading the luminance of whatever image x/image/tiff produces.
func decodeGeneric(b []byte) (*Grid, error) {
	img, err := tiff.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	r := img.Bounds()
	g := &Grid{Width: r.Dx(), Height: r.Dy(), Values: make([]float64, r.Dx()*r.Dy())}
	switch im := img.(type) {
	case *image.Gray:
		for y := range g.Height {
			for x := range g.Width {
				g.Values[y*g.Width+x] = float64(im.GrayAt(r.Min.X+x, r.Min.Y+y).Y)
			}
		}
	case *image.Gray16:
		for y := range g.Height {
			for x := range g.Width {
				g.Values[y*g.Width+x] = float64(im.Gray16At(r.Min.X+x, r.Min.Y+y).Y)
			}
		}
	default:
		for y := range g.Height {
			for x := range g.Width {
				c := color.Gray16Model.Convert(img.At(r.Min.X+x, r.Min.Y+y)).(color.Gray16)
				g.Values[y*g.Width+x] = float64(c.Y)
			}
		}
	}
	return g, nil
}
