package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/image/tiff/lzw"
)

// TIFF and GeoTIFF tags understood by the codec.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagPhotometric         = 262
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfig        = 284
	tagPredictor           = 317
	tagTileWidth           = 322
	tagTileLength          = 323
	tagTileOffsets         = 324
	tagTileByteCounts      = 325
	tagSampleFormat        = 339
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGDALNoData          = 42113
)

// Field types.
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
	dtLong8     = 16
	dtSLong8    = 17
	dtIFD8      = 18
)

var typeSizes = map[uint16]int{
	dtByte: 1, dtASCII: 1, dtShort: 2, dtLong: 4, dtRational: 8,
	dtSByte: 1, dtUndefined: 1, dtSShort: 2, dtSLong: 4, dtSRational: 8,
	dtFloat: 4, dtDouble: 8, dtLong8: 8, dtSLong8: 8, dtIFD8: 8,
}

const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionDeflateOld = 32946

	sampleUint  = 1
	sampleInt   = 2
	sampleFloat = 3

	predictorNone       = 1
	predictorHorizontal = 2
	predictorFloat      = 3

	planarChunky = 1
	planarSplit  = 2
)

// GeoKeys.
const (
	keyModelType      = 1024
	keyRasterType     = 1025
	keyGeographicType = 2048
	keyProjectedType  = 3072

	modelProjected     = 1
	modelGeographic    = 2
	rasterPixelIsArea  = 1
	rasterPixelIsPoint = 2
	userDefined        = 32767
)

// maxTagBytes bounds a single tag payload.
const maxTagBytes = 1 << 28

// tileSize is the edge of the square tiles Write produces.
const tileSize = 256

// entry is one decoded IFD entry with its payload resolved.
type entry struct {
	typ   uint16
	count uint64
	raw   []byte
}

func (e entry) uints(order binary.ByteOrder) []uint64 {
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case dtByte, dtUndefined, dtSByte:
			out[i] = uint64(e.raw[i])
		case dtShort, dtSShort:
			out[i] = uint64(order.Uint16(e.raw[2*i:]))
		case dtLong, dtSLong:
			out[i] = uint64(order.Uint32(e.raw[4*i:]))
		case dtLong8, dtSLong8, dtIFD8:
			out[i] = order.Uint64(e.raw[8*i:])
		}
	}
	return out
}

func (e entry) floats(order binary.ByteOrder) []float64 {
	switch e.typ {
	case dtDouble:
		out := make([]float64, e.count)
		for i := range out {
			out[i] = math.Float64frombits(order.Uint64(e.raw[8*i:]))
		}
		return out
	case dtFloat:
		out := make([]float64, e.count)
		for i := range out {
			out[i] = float64(math.Float32frombits(order.Uint32(e.raw[4*i:])))
		}
		return out
	}
	u := e.uints(order)
	out := make([]float64, len(u))
	for i, v := range u {
		out[i] = float64(v)
	}
	return out
}

func (e entry) text() string {
	return strings.TrimSpace(strings.TrimRight(string(e.raw), "\x00"))
}

// tiffLayout is the first image directory of a TIFF file: sample layout,
// chunk locations and whatever georeferencing the GeoTIFF tags carry.
type tiffLayout struct {
	order       binary.ByteOrder
	width       int
	height      int
	bands       int
	bits        int
	format      uint16
	compression uint16
	predictor   uint16
	planar      uint16

	tiled          bool
	chunkW, chunkH int
	offsets        []uint64
	counts         []uint64

	transform *Transform
	crs       string
	noData    *float64
}

// readLayout parses the header and first IFD of a classic or BigTIFF file.
func readLayout(r io.ReaderAt) (*tiffLayout, error) {
	var hdr [16]byte
	if _, err := r.ReadAt(hdr[:8], 0); err != nil {
		return nil, eris.Wrap(err, "read tiff header")
	}
	var order binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, eris.New("not a TIFF file")
	}

	d := dirReader{r: r, order: order}
	var off uint64
	switch order.Uint16(hdr[2:4]) {
	case 42:
		off = uint64(order.Uint32(hdr[4:8]))
	case 43:
		if _, err := r.ReadAt(hdr[8:16], 8); err != nil {
			return nil, eris.Wrap(err, "read bigtiff header")
		}
		d.big = true
		off = order.Uint64(hdr[8:16])
	default:
		return nil, eris.New("not a TIFF file")
	}

	tags, err := d.entries(off)
	if err != nil {
		return nil, err
	}
	return newLayout(order, tags)
}

type dirReader struct {
	r     io.ReaderAt
	order binary.ByteOrder
	big   bool
}

func (d dirReader) entries(off uint64) (map[uint16]entry, error) {
	countSize, entrySize, inline := 2, 12, 4
	if d.big {
		countSize, entrySize, inline = 8, 20, 8
	}
	buf := make([]byte, countSize)
	if _, err := d.r.ReadAt(buf, int64(off)); err != nil {
		return nil, eris.Wrap(err, "read ifd")
	}
	var n uint64
	if d.big {
		n = d.order.Uint64(buf)
	} else {
		n = uint64(d.order.Uint16(buf))
	}
	if n == 0 || n > 4096 {
		return nil, eris.Errorf("ifd with %d entries", n)
	}

	table := make([]byte, int(n)*entrySize)
	if _, err := d.r.ReadAt(table, int64(off)+int64(countSize)); err != nil {
		return nil, eris.Wrap(err, "read ifd entries")
	}
	out := make(map[uint16]entry, n)
	for i := 0; i < int(n); i++ {
		e := table[i*entrySize : (i+1)*entrySize]
		tag := d.order.Uint16(e[0:2])
		typ := d.order.Uint16(e[2:4])
		size, ok := typeSizes[typ]
		if !ok {
			continue
		}
		var count uint64
		var val []byte
		if d.big {
			count, val = d.order.Uint64(e[4:12]), e[12:20]
		} else {
			count, val = uint64(d.order.Uint32(e[4:8])), e[8:12]
		}
		total := count * uint64(size)
		if total > maxTagBytes {
			return nil, eris.Errorf("tag %d payload of %d bytes", tag, total)
		}
		raw := make([]byte, total)
		if total <= uint64(inline) {
			copy(raw, val)
		} else {
			at := uint64(d.order.Uint32(val))
			if d.big {
				at = d.order.Uint64(val)
			}
			if _, err := d.r.ReadAt(raw, int64(at)); err != nil {
				return nil, eris.Wrapf(err, "read tag %d", tag)
			}
		}
		out[tag] = entry{typ: typ, count: count, raw: raw}
	}
	return out, nil
}

func newLayout(order binary.ByteOrder, tags map[uint16]entry) (*tiffLayout, error) {
	first := func(tag uint16, def uint64) uint64 {
		if u := tags[tag].uints(order); len(u) > 0 {
			return u[0]
		}
		return def
	}
	l := &tiffLayout{
		order:       order,
		width:       int(first(tagImageWidth, 0)),
		height:      int(first(tagImageLength, 0)),
		bands:       int(first(tagSamplesPerPixel, 1)),
		bits:        int(first(tagBitsPerSample, 1)),
		format:      uint16(first(tagSampleFormat, sampleUint)),
		compression: uint16(first(tagCompression, compressionNone)),
		predictor:   uint16(first(tagPredictor, predictorNone)),
		planar:      uint16(first(tagPlanarConfig, planarChunky)),
	}
	if l.width <= 0 || l.height <= 0 {
		return nil, eris.Errorf("invalid image size %dx%d", l.width, l.height)
	}
	if l.bands < 1 {
		return nil, eris.Errorf("invalid samples per pixel %d", l.bands)
	}
	for _, b := range tags[tagBitsPerSample].uints(order) {
		if int(b) != l.bits {
			return nil, eris.New("bands with differing bit depths")
		}
	}
	switch l.bits {
	case 8, 16, 32, 64:
	default:
		return nil, eris.Errorf("unsupported bit depth %d", l.bits)
	}
	if l.format == sampleFloat && l.bits < 32 {
		return nil, eris.Errorf("unsupported %d-bit float samples", l.bits)
	}
	switch l.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld:
	default:
		return nil, eris.Errorf("unsupported compression %d", l.compression)
	}
	switch l.predictor {
	case predictorNone, predictorHorizontal:
	case predictorFloat:
		if l.format != sampleFloat {
			return nil, eris.New("floating point predictor on integer samples")
		}
	default:
		return nil, eris.Errorf("unsupported predictor %d", l.predictor)
	}
	if l.planar != planarChunky && l.planar != planarSplit {
		return nil, eris.Errorf("unsupported planar configuration %d", l.planar)
	}

	if _, ok := tags[tagTileWidth]; ok {
		l.tiled = true
		l.chunkW = int(first(tagTileWidth, 0))
		l.chunkH = int(first(tagTileLength, 0))
		l.offsets = tags[tagTileOffsets].uints(order)
		l.counts = tags[tagTileByteCounts].uints(order)
	} else {
		l.chunkW = l.width
		l.chunkH = int(min(first(tagRowsPerStrip, uint64(l.height)), uint64(l.height)))
		l.offsets = tags[tagStripOffsets].uints(order)
		l.counts = tags[tagStripByteCounts].uints(order)
	}
	if l.chunkW <= 0 || l.chunkH <= 0 {
		return nil, eris.Errorf("invalid chunk size %dx%d", l.chunkH, l.chunkW)
	}
	want := l.across() * l.down()
	if l.planar == planarSplit {
		want *= l.bands
	}
	if len(l.offsets) < want || len(l.counts) < want {
		return nil, eris.Errorf("%d chunk offsets for %d chunks", min(len(l.offsets), len(l.counts)), want)
	}

	l.readGeo(tags)
	return l, nil
}

func (l *tiffLayout) readGeo(tags map[uint16]entry) {
	keys := make(map[uint64]uint64)
	if dir := tags[tagGeoKeyDirectory].uints(l.order); len(dir) >= 4 {
		for i := 0; i < int(dir[3]) && 4+4*i+3 < len(dir); i++ {
			k := dir[4+4*i : 8+4*i]
			// Only inline SHORT values; codes never live in the param tags.
			if k[1] == 0 {
				keys[k[0]] = k[3]
			}
		}
	}
	for _, key := range []uint64{keyProjectedType, keyGeographicType} {
		if code := keys[key]; code > 0 && code != userDefined {
			l.crs = "EPSG:" + strconv.FormatUint(code, 10)
			break
		}
	}

	if m := tags[tagModelTransformation].floats(l.order); len(m) >= 8 {
		l.transform = &Transform{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}
	} else {
		scale := tags[tagModelPixelScale].floats(l.order)
		tie := tags[tagModelTiepoint].floats(l.order)
		if len(scale) >= 2 && len(tie) >= 6 {
			t := Transform{A: scale[0], E: -scale[1]}
			t.C = tie[3] - tie[0]*t.A
			t.F = tie[4] - tie[1]*t.E
			l.transform = &t
		}
	}
	if l.transform != nil && keys[keyRasterType] == rasterPixelIsPoint {
		// Point-registered tiepoints refer to pixel centres.
		l.transform.C -= (l.transform.A + l.transform.B) / 2
		l.transform.F -= (l.transform.D + l.transform.E) / 2
	}

	if e, ok := tags[tagGDALNoData]; ok {
		if v, err := strconv.ParseFloat(e.text(), 64); err == nil && !math.IsNaN(v) {
			l.noData = &v
		}
	}
}

func (l *tiffLayout) across() int { return (l.width + l.chunkW - 1) / l.chunkW }
func (l *tiffLayout) down() int   { return (l.height + l.chunkH - 1) / l.chunkH }

// dtype maps the stored sample type onto the grid model. Anything that is not
// unsigned 8 or 16 bit is widened to float32.
func (l *tiffLayout) dtype() DType {
	if l.format != sampleInt && l.format != sampleFloat {
		switch l.bits {
		case 8:
			return Uint8
		case 16:
			return Uint16
		}
	}
	return Float32
}

// readWindow decodes one zero-based band over w. Only the chunks that
// intersect w are read.
func (l *tiffLayout) readWindow(r io.ReaderAt, band int, w Window) ([]float32, error) {
	if band < 0 || band >= l.bands {
		return nil, eris.Errorf("band %d of %d", band+1, l.bands)
	}
	if w.RowOff < 0 || w.ColOff < 0 || w.Height <= 0 || w.Width <= 0 ||
		w.RowOff+w.Height > l.height || w.ColOff+w.Width > l.width {
		return nil, eris.Errorf("window %+v outside %dx%d image", w, l.height, l.width)
	}

	samples, sample := l.bands, band
	if l.planar == planarSplit {
		samples, sample = 1, 0
	}
	bps := l.bits / 8
	decode := l.sampleDecoder()
	out := make([]float32, w.Pixels())

	for cr := w.RowOff / l.chunkH; cr <= (w.RowOff+w.Height-1)/l.chunkH; cr++ {
		rows := l.chunkH
		if !l.tiled {
			rows = min(l.chunkH, l.height-cr*l.chunkH)
		}
		y0 := max(w.RowOff, cr*l.chunkH)
		y1 := min(w.RowOff+w.Height, cr*l.chunkH+rows)

		for cc := w.ColOff / l.chunkW; cc <= (w.ColOff+w.Width-1)/l.chunkW; cc++ {
			idx := cr*l.across() + cc
			if l.planar == planarSplit {
				idx += band * l.across() * l.down()
			}
			buf, order, err := l.chunk(r, idx, rows, samples)
			if err != nil {
				return nil, eris.Wrapf(err, "chunk %d", idx)
			}

			x0 := max(w.ColOff, cc*l.chunkW)
			x1 := min(w.ColOff+w.Width, (cc+1)*l.chunkW)
			for y := y0; y < y1; y++ {
				src := (y - cr*l.chunkH) * l.chunkW
				dst := (y - w.RowOff) * w.Width
				for x := x0; x < x1; x++ {
					i := ((src+x-cc*l.chunkW)*samples + sample) * bps
					out[dst+x-w.ColOff] = decode(order, buf[i:])
				}
			}
		}
	}
	return out, nil
}

// chunk returns the decompressed, predictor-decoded bytes of one strip or
// tile together with the byte order its samples are now in.
func (l *tiffLayout) chunk(r io.ReaderAt, idx, rows, samples int) ([]byte, binary.ByteOrder, error) {
	bps := l.bits / 8
	rowBytes := l.chunkW * samples * bps
	buf := make([]byte, rows*rowBytes)
	if l.counts[idx] == 0 {
		// Sparse chunk.
		return buf, l.order, nil
	}

	var src io.Reader = io.NewSectionReader(r, int64(l.offsets[idx]), int64(l.counts[idx]))
	switch l.compression {
	case compressionLZW:
		lr := lzw.NewReader(src, lzw.MSB, 8)
		defer lr.Close() //nolint:errcheck
		src = lr
	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(src)
		if err != nil {
			return nil, nil, eris.Wrap(err, "inflate")
		}
		defer zr.Close() //nolint:errcheck
		src = zr
	}
	if _, err := io.ReadFull(src, buf); err != nil {
		return nil, nil, eris.Wrap(err, "decompress")
	}

	order := l.order
	switch l.predictor {
	case predictorHorizontal:
		for y := 0; y < rows; y++ {
			undoHorizontal(buf[y*rowBytes:(y+1)*rowBytes], samples, bps, order)
		}
	case predictorFloat:
		tmp := make([]byte, rowBytes)
		for y := 0; y < rows; y++ {
			undoFloatPredictor(buf[y*rowBytes:(y+1)*rowBytes], tmp, samples, bps)
		}
		order = binary.BigEndian
	}
	return buf, order, nil
}

func undoHorizontal(row []byte, samples, bps int, order binary.ByteOrder) {
	stride := samples * bps
	switch bps {
	case 1:
		for i := stride; i < len(row); i++ {
			row[i] += row[i-stride]
		}
	case 2:
		for i := stride; i+2 <= len(row); i += 2 {
			order.PutUint16(row[i:], order.Uint16(row[i:])+order.Uint16(row[i-stride:]))
		}
	case 4:
		for i := stride; i+4 <= len(row); i += 4 {
			order.PutUint32(row[i:], order.Uint32(row[i:])+order.Uint32(row[i-stride:]))
		}
	case 8:
		for i := stride; i+8 <= len(row); i += 8 {
			order.PutUint64(row[i:], order.Uint64(row[i:])+order.Uint64(row[i-stride:]))
		}
	}
}

// undoFloatPredictor reverses the byte-plane differencing of predictor 3,
// leaving big-endian samples in row.
func undoFloatPredictor(row, tmp []byte, samples, bps int) {
	for i := samples; i < len(row); i++ {
		row[i] += row[i-samples]
	}
	n := len(row) / bps
	copy(tmp, row)
	for i := 0; i < n; i++ {
		for b := 0; b < bps; b++ {
			row[i*bps+b] = tmp[b*n+i]
		}
	}
}

func (l *tiffLayout) sampleDecoder() func(binary.ByteOrder, []byte) float32 {
	switch {
	case l.format == sampleFloat && l.bits == 32:
		return func(o binary.ByteOrder, b []byte) float32 { return math.Float32frombits(o.Uint32(b)) }
	case l.format == sampleFloat:
		return func(o binary.ByteOrder, b []byte) float32 { return float32(math.Float64frombits(o.Uint64(b))) }
	case l.format == sampleInt && l.bits == 8:
		return func(_ binary.ByteOrder, b []byte) float32 { return float32(int8(b[0])) }
	case l.format == sampleInt && l.bits == 16:
		return func(o binary.ByteOrder, b []byte) float32 { return float32(int16(o.Uint16(b))) }
	case l.format == sampleInt && l.bits == 32:
		return func(o binary.ByteOrder, b []byte) float32 { return float32(int32(o.Uint32(b))) }
	case l.format == sampleInt:
		return func(o binary.ByteOrder, b []byte) float32 { return float32(int64(o.Uint64(b))) }
	case l.bits == 8:
		return func(_ binary.ByteOrder, b []byte) float32 { return float32(b[0]) }
	case l.bits == 16:
		return func(o binary.ByteOrder, b []byte) float32 { return float32(o.Uint16(b)) }
	case l.bits == 32:
		return func(o binary.ByteOrder, b []byte) float32 { return float32(o.Uint32(b)) }
	default:
		return func(o binary.ByteOrder, b []byte) float32 { return float32(o.Uint64(b)) }
	}
}

// byteOrder is what the writer needs from binary.LittleEndian or BigEndian.
type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// field is an IFD entry waiting to be written.
type field struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func shortField(order byteOrder, tag uint16, v ...uint16) field {
	f := field{tag: tag, typ: dtShort, count: uint32(len(v))}
	for _, x := range v {
		f.data = order.AppendUint16(f.data, x)
	}
	return f
}

func longField(order byteOrder, tag uint16, v ...uint32) field {
	f := field{tag: tag, typ: dtLong, count: uint32(len(v))}
	for _, x := range v {
		f.data = order.AppendUint32(f.data, x)
	}
	return f
}

func doubleField(order byteOrder, tag uint16, v ...float64) field {
	f := field{tag: tag, typ: dtDouble, count: uint32(len(v))}
	for _, x := range v {
		f.data = order.AppendUint64(f.data, math.Float64bits(x))
	}
	return f
}

func asciiField(tag uint16, s string) field {
	return field{tag: tag, typ: dtASCII, count: uint32(len(s) + 1), data: append([]byte(s), 0)}
}

// writeIFD writes a classic TIFF directory at file offset pos, followed by
// the payloads that do not fit inline. It returns the bytes written.
func writeIFD(w io.Writer, order byteOrder, pos uint32, fields []field) (int, error) {
	sort.Slice(fields, func(i, j int) bool { return fields[i].tag < fields[j].tag })

	size := 2 + 12*len(fields) + 4
	extraAt := pos + uint32(size)
	var dir, extra bytes.Buffer
	dir.Write(order.AppendUint16(nil, uint16(len(fields))))
	for _, f := range fields {
		var e [12]byte
		order.PutUint16(e[0:], f.tag)
		order.PutUint16(e[2:], f.typ)
		order.PutUint32(e[4:], f.count)
		if len(f.data) <= 4 {
			copy(e[8:], f.data)
		} else {
			order.PutUint32(e[8:], extraAt+uint32(extra.Len()))
			extra.Write(f.data)
			if extra.Len()%2 == 1 {
				extra.WriteByte(0)
			}
		}
		dir.Write(e[:])
	}
	dir.Write(make([]byte, 4))

	n, err := w.Write(dir.Bytes())
	if err != nil {
		return n, err
	}
	m, err := w.Write(extra.Bytes())
	return n + m, err
}

// geoKeyDirectory encodes the CRS and raster type. ok is false when crs is
// set but cannot be expressed as an EPSG code.
func geoKeyDirectory(crs string) (keys []uint16, ok bool) {
	entries := [][4]uint16{}
	code, isEPSG := epsgCode(crs)
	switch {
	case isEPSG && code >= 4000 && code < 5000:
		entries = append(entries,
			[4]uint16{keyModelType, 0, 1, modelGeographic},
			[4]uint16{keyRasterType, 0, 1, rasterPixelIsArea},
			[4]uint16{keyGeographicType, 0, 1, code})
	case isEPSG:
		entries = append(entries,
			[4]uint16{keyModelType, 0, 1, modelProjected},
			[4]uint16{keyRasterType, 0, 1, rasterPixelIsArea},
			[4]uint16{keyProjectedType, 0, 1, code})
	default:
		entries = append(entries, [4]uint16{keyRasterType, 0, 1, rasterPixelIsArea})
	}

	keys = []uint16{1, 1, 0, uint16(len(entries))}
	for _, e := range entries {
		keys = append(keys, e[:]...)
	}
	return keys, isEPSG || strings.TrimSpace(crs) == ""
}

func epsgCode(crs string) (uint16, bool) {
	s, found := strings.CutPrefix(strings.ToUpper(strings.TrimSpace(crs)), "EPSG:")
	if !found {
		return 0, false
	}
	code, err := strconv.Atoi(s)
	if err != nil || code <= 0 || code >= userDefined {
		return 0, false
	}
	return uint16(code), true
}
