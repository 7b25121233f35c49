package raster

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
	"gopkg.in/yaml.v3"
)

// buildTIFF assembles a classic TIFF around pre-encoded chunks, the way an
// external tool would lay one out.
func buildTIFF(t *testing.T, order byteOrder, chunks [][]byte, offsetTag, countTag uint16, fields ...field) []byte {
	t.Helper()
	var buf bytes.Buffer
	if order.String() == binary.BigEndian.String() {
		buf.WriteString("MM")
	} else {
		buf.WriteString("II")
	}
	buf.Write(order.AppendUint16(nil, 42))
	buf.Write(make([]byte, 4))

	var offs, counts []uint32
	for _, c := range chunks {
		offs = append(offs, uint32(buf.Len()))
		counts = append(counts, uint32(len(c)))
		buf.Write(c)
	}
	if buf.Len()%2 == 1 {
		buf.WriteByte(0)
	}
	ifd := uint32(buf.Len())
	fields = append(fields, longField(order, offsetTag, offs...), longField(order, countTag, counts...))
	_, err := writeIFD(&buf, order, ifd, fields)
	require.NoError(t, err)

	out := buf.Bytes()
	order.PutUint32(out[4:], ifd)
	return out
}

func deflate(t *testing.T, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func projectedKeys(code uint16) []uint16 {
	return []uint16{1, 1, 0, 3,
		keyModelType, 0, 1, modelProjected,
		keyRasterType, 0, 1, rasterPixelIsArea,
		keyProjectedType, 0, 1, code,
	}
}

// Two-band uint16, big-endian, two-row strips with horizontal differencing:
// the layout GDAL produces with PREDICTOR=2 and INTERLEAVE=PIXEL.
func TestRead_BigEndianStripsWithPredictor(t *testing.T) {
	const width, height, rowsPerStrip = 4, 3, 2
	order := binary.BigEndian
	band1 := func(r, c int) uint16 { return uint16(100*r + 10*c) }
	band2 := func(r, c int) uint16 { return uint16(1000 + r + c) }

	var chunks [][]byte
	for r0 := 0; r0 < height; r0 += rowsPerStrip {
		var raw []byte
		for r := r0; r < min(r0+rowsPerStrip, height); r++ {
			row := make([]uint16, 0, 2*width)
			for c := 0; c < width; c++ {
				row = append(row, band1(r, c), band2(r, c))
			}
			for i := len(row) - 1; i >= 2; i-- {
				row[i] -= row[i-2]
			}
			for _, v := range row {
				raw = order.AppendUint16(raw, v)
			}
		}
		chunks = append(chunks, deflate(t, raw))
	}

	data := buildTIFF(t, order, chunks, tagStripOffsets, tagStripByteCounts,
		longField(order, tagImageWidth, width),
		longField(order, tagImageLength, height),
		shortField(order, tagBitsPerSample, 16, 16),
		shortField(order, tagCompression, compressionDeflate),
		shortField(order, tagPhotometric, 1),
		shortField(order, tagSamplesPerPixel, 2),
		longField(order, tagRowsPerStrip, rowsPerStrip),
		shortField(order, tagPlanarConfig, planarChunky),
		shortField(order, tagPredictor, predictorHorizontal),
		doubleField(order, tagModelPixelScale, 30, 30, 0),
		doubleField(order, tagModelTiepoint, 0, 0, 0, 500000, 4000000, 0),
		shortField(order, tagGeoKeyDirectory, projectedKeys(32633)...),
		asciiField(tagGDALNoData, "0"),
	)
	path := writeFile(t, "landcover.tif", data)

	n, err := Bands(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	p, err := ReadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, Profile{
		CRS:       "EPSG:32633",
		Transform: Transform{A: 30, C: 500000, E: -30, F: 4000000},
		Width:     width,
		Height:    height,
		DType:     Uint16,
		NoData:    NoDataValue(0),
	}, p)

	first, err := Read(path)
	require.NoError(t, err)
	second, err := ReadBand(path, 2)
	require.NoError(t, err)
	for r := 0; r < height; r++ {
		for c := 0; c < width; c++ {
			assert.Equal(t, float32(band1(r, c)), first.At(r, c), "band 1 (%d,%d)", r, c)
			assert.Equal(t, float32(band2(r, c)), second.At(r, c), "band 2 (%d,%d)", r, c)
		}
	}

	_, err = ReadBand(path, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has 2 bands")

	src, err := OpenBand(path, 2)
	require.NoError(t, err)
	// Bottom-right 2x2 pixels.
	out, err := src.ReadBounds(context.Background(), Bounds{Left: 500060, Bottom: 3999910, Right: 500120, Top: 3999970}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{
		float32(band2(1, 2)), float32(band2(1, 3)),
		float32(band2(2, 2)), float32(band2(2, 3)),
	}, out.Data)
}

// encodeFloatRow applies the TIFF floating point predictor to one row of
// single-sample float32 values.
func encodeFloatRow(vals []float32) []byte {
	n := len(vals)
	out := make([]byte, 4*n)
	for i, v := range vals {
		bits := math.Float32bits(v)
		for b := 0; b < 4; b++ {
			out[b*n+i] = byte(bits >> (24 - 8*b))
		}
	}
	for i := len(out) - 1; i >= 1; i-- {
		out[i] -= out[i-1]
	}
	return out
}

func TestRead_FloatPredictorTiles(t *testing.T) {
	const width, height, tile = 20, 18, 16
	order := binary.LittleEndian
	value := func(r, c int) float32 { return float32(r)*0.1 + float32(c)*0.001 }

	var chunks [][]byte
	for ty := 0; ty < 2; ty++ {
		for tx := 0; tx < 2; tx++ {
			var raw []byte
			for y := 0; y < tile; y++ {
				row := make([]float32, tile)
				for x := range row {
					r, c := ty*tile+y, tx*tile+x
					if r < height && c < width {
						row[x] = value(r, c)
					}
				}
				raw = append(raw, encodeFloatRow(row)...)
			}
			chunks = append(chunks, deflate(t, raw))
		}
	}

	keys := []uint16{1, 1, 0, 3,
		keyModelType, 0, 1, modelGeographic,
		keyRasterType, 0, 1, rasterPixelIsPoint,
		keyGeographicType, 0, 1, 4326,
	}
	data := buildTIFF(t, order, chunks, tagTileOffsets, tagTileByteCounts,
		longField(order, tagImageWidth, width),
		longField(order, tagImageLength, height),
		shortField(order, tagBitsPerSample, 32),
		shortField(order, tagCompression, compressionDeflate),
		shortField(order, tagSamplesPerPixel, 1),
		shortField(order, tagPredictor, predictorFloat),
		shortField(order, tagSampleFormat, sampleFloat),
		shortField(order, tagTileWidth, tile),
		shortField(order, tagTileLength, tile),
		doubleField(order, tagModelTransformation,
			10, 0, 0, 1000,
			0, -10, 0, 2000,
			0, 0, 0, 0,
			0, 0, 0, 1),
		shortField(order, tagGeoKeyDirectory, keys...),
	)
	path := writeFile(t, "ndvi.tif", data)

	g, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "EPSG:4326", g.CRS)
	assert.Equal(t, Float32, g.DType)
	assert.Nil(t, g.NoData)
	// Point registration moves the origin half a pixel up and left.
	assert.Equal(t, Transform{A: 10, C: 995, E: -10, F: 2005}, g.Transform)
	for r := 0; r < height; r++ {
		for c := 0; c < width; c++ {
			require.Equal(t, value(r, c), g.At(r, c), "(%d,%d)", r, c)
		}
	}
}

func TestRead_PlainTIFFFallsBackToSidecar(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 3, 2))
	for i := 0; i < 6; i++ {
		putUint16BE(img.Pix[2*i:], uint16(40*i))
	}
	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true}))
	path := writeFile(t, "slope.tif", buf.Bytes())

	_, err := Read(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no georeferencing")

	header, err := yaml.Marshal(&sidecar{
		CRS:       "EPSG:5070",
		Transform: []float64{30, 0, 100, 0, -30, 900},
		NoData:    NoDataValue(0),
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path+SidecarExt, header, 0o644))

	g, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "EPSG:5070", g.CRS)
	assert.Equal(t, Transform{A: 30, C: 100, E: -30, F: 900}, g.Transform)
	assert.Equal(t, Uint16, g.DType)
	require.NotNil(t, g.NoData)
	assert.Equal(t, []float32{0, 40, 80, 120, 160, 200}, g.Data)
}

func putUint16BE(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func TestWrite_GeoTIFFTags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grazing.tif")
	g := sequenceGrid(300, 270)
	require.NoError(t, Write(path, g))
	_, err := os.Stat(path + SidecarExt)
	assert.True(t, os.IsNotExist(err), "EPSG CRS should not need a sidecar")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	d := dirReader{r: f, order: binary.LittleEndian}
	off := make([]byte, 4)
	_, err = f.ReadAt(off, 4)
	require.NoError(t, err)
	tags, err := d.entries(uint64(binary.LittleEndian.Uint32(off)))
	require.NoError(t, err)

	le := binary.LittleEndian
	assert.Equal(t, []float64{10, 10, 0}, tags[tagModelPixelScale].floats(le))
	assert.Equal(t, []float64{0, 0, 0, 1000, 5000, 0}, tags[tagModelTiepoint].floats(le))
	assert.Equal(t, "0", tags[tagGDALNoData].text())
	assert.Equal(t, []uint64{tileSize}, tags[tagTileWidth].uints(le))
	assert.Equal(t, []uint64{compressionDeflate}, tags[tagCompression].uints(le))
	assert.Len(t, tags[tagTileOffsets].uints(le), 4)

	keys := tags[tagGeoKeyDirectory].uints(le)
	assert.Contains(t, keyValues(keys), [2]uint64{keyProjectedType, 5070})

	l, err := newLayout(le, tags)
	require.NoError(t, err)
	assert.True(t, l.tiled)
	assert.Equal(t, Uint8, l.dtype())
}

func keyValues(dir []uint64) [][2]uint64 {
	var out [][2]uint64
	for i := 4; i+3 < len(dir); i += 4 {
		out = append(out, [2]uint64{dir[i], dir[i+3]})
	}
	return out
}

func TestWrite_NonEPSGCRSUsesSidecar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mask.tif")
	g := sequenceGrid(3, 3)
	g.CRS = "ESRI:102003"
	require.NoError(t, Write(path, g))
	require.FileExists(t, path+SidecarExt)

	got, err := ReadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, g.Profile, got)

	// Rewriting with an EPSG CRS drops the stale sidecar.
	g.CRS = "EPSG:5070"
	require.NoError(t, Write(path, g))
	assert.NoFileExists(t, path+SidecarExt)
	got, err = ReadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "EPSG:5070", got.CRS)
}

func TestGeoKeyDirectory(t *testing.T) {
	keys, ok := geoKeyDirectory("EPSG:4326")
	assert.True(t, ok)
	assert.Equal(t, uint16(3), keys[3])
	assert.Equal(t, []uint16{keyGeographicType, 0, 1, 4326}, keys[12:16])

	_, ok = geoKeyDirectory("")
	assert.True(t, ok)
	_, ok = geoKeyDirectory("+proj=aea +lat_1=29.5")
	assert.False(t, ok)
}

func TestReadLayout_RejectsUnsupported(t *testing.T) {
	order := binary.LittleEndian
	tests := []struct {
		name   string
		fields []field
		want   string
	}{
		{"packbits", []field{shortField(order, tagCompression, 32773)}, "unsupported compression"},
		{"1-bit", []field{shortField(order, tagBitsPerSample, 1)}, "unsupported bit depth"},
		{"half float", []field{shortField(order, tagBitsPerSample, 16), shortField(order, tagSampleFormat, sampleFloat)}, "16-bit float"},
		{"float predictor on ints", []field{shortField(order, tagPredictor, predictorFloat)}, "floating point predictor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := append([]field{
				longField(order, tagImageWidth, 1),
				longField(order, tagImageLength, 1),
			}, tt.fields...)
			if !hasTag(fields, tagBitsPerSample) {
				fields = append(fields, shortField(order, tagBitsPerSample, 8))
			}
			data := buildTIFF(t, order, [][]byte{{0}}, tagStripOffsets, tagStripByteCounts, fields...)
			_, err := readLayout(bytes.NewReader(data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func hasTag(fields []field, tag uint16) bool {
	for _, f := range fields {
		if f.tag == tag {
			return true
		}
	}
	return false
}

func TestReadLayout_NotTIFF(t *testing.T) {
	_, err := readLayout(bytes.NewReader([]byte("PK\x03\x04 not a tiff")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a TIFF")
}

func TestPixelWindow(t *testing.T) {
	p := testProfile(10, 10)
	assert.Equal(t, Window{RowOff: 2, ColOff: 3, Height: 4, Width: 5},
		p.pixelWindow(Bounds{Left: 1030, Bottom: 4940, Right: 1080, Top: 4980}))
	// Partial pixels widen the window.
	assert.Equal(t, Window{RowOff: 2, ColOff: 3, Height: 5, Width: 6},
		p.pixelWindow(Bounds{Left: 1031, Bottom: 4931, Right: 1085, Top: 4979}))
	// Clipped to the grid.
	assert.Equal(t, Window{RowOff: 0, ColOff: 0, Height: 10, Width: 10},
		p.pixelWindow(Bounds{Left: 995, Bottom: 4895, Right: 1105, Top: 5005}))
}
