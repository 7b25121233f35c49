package raster

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// SidecarExt is appended to a raster path to locate an optional YAML header.
// It supplies georeferencing for plain TIFFs and carries CRSs that have no
// EPSG code.
const SidecarExt = ".aux.yaml"

// sidecar is the YAML header stored next to a TIFF payload.
type sidecar struct {
	CRS       string    `yaml:"crs,omitempty"`
	Transform []float64 `yaml:"transform,flow,omitempty"`
	NoData    *float64  `yaml:"nodata,omitempty"`
}

// Exists reports whether a raster payload is present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Remove deletes a raster payload and its sidecar. Missing files are ignored.
func Remove(path string) error {
	for _, p := range []string{path, path + SidecarExt} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return eris.Wrapf(err, "raster: remove %s", p)
		}
	}
	return nil
}

// ReadProfile reads the georeferencing and dimensions of a raster without
// decoding pixels.
func ReadProfile(path string) (Profile, error) {
	_, p, err := readHeader(path)
	return p, err
}

// Bands returns the number of bands stored in the raster at path.
func Bands(path string) (int, error) {
	l, _, err := readHeader(path)
	if err != nil {
		return 0, err
	}
	return l.bands, nil
}

// Read decodes the first band of the raster at path.
func Read(path string) (*Grid, error) {
	return ReadBand(path, 1)
}

// ReadBand decodes one band, numbered from 1, of the raster at path.
func ReadBand(path string, band int) (*Grid, error) {
	l, p, err := readHeader(path)
	if err != nil {
		return nil, err
	}
	if band < 1 || band > l.bands {
		return nil, eris.Errorf("raster: %s has %d bands, asked for band %d", path, l.bands, band)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	data, err := l.readWindow(f, band-1, Window{Height: p.Height, Width: p.Width})
	if err != nil {
		return nil, eris.Wrapf(err, "raster: decode %s", path)
	}
	return &Grid{Profile: p, Data: data}, nil
}

func readHeader(path string) (*tiffLayout, Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Profile{}, eris.Wrapf(err, "raster: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	l, err := readLayout(f)
	if err != nil {
		return nil, Profile{}, eris.Wrapf(err, "raster: decode header %s", path)
	}
	sc, err := readSidecar(path)
	if err != nil {
		return nil, Profile{}, err
	}

	p := Profile{
		CRS:    l.crs,
		Width:  l.width,
		Height: l.height,
		DType:  l.dtype(),
		NoData: l.noData,
	}
	switch {
	case l.transform != nil:
		p.Transform = *l.transform
	case sc != nil && len(sc.Transform) > 0:
		if p.Transform, err = TransformFromSlice(sc.Transform); err != nil {
			return nil, Profile{}, eris.Wrapf(err, "raster: %s", path)
		}
	default:
		return nil, Profile{}, eris.Errorf("raster: %s has no georeferencing", path)
	}
	if sc != nil {
		if p.CRS == "" {
			p.CRS = sc.CRS
		}
		if p.NoData == nil {
			p.NoData = sc.NoData
		}
	}
	if err := p.Validate(); err != nil {
		return nil, Profile{}, eris.Wrapf(err, "raster: %s", path)
	}
	return l, p, nil
}

// Write encodes g to path as a tiled, Deflate-compressed GeoTIFF. Samples are
// stored at the grid's dtype; float32 samples are kept bit for bit. The file
// is written under a temporary name and renamed into place so a partially
// written raster is never observed under its final name.
func Write(path string, g *Grid) error {
	if err := g.Profile.Validate(); err != nil {
		return eris.Wrapf(err, "raster: write %s", path)
	}
	if len(g.Data) != g.Width*g.Height {
		return eris.Errorf("raster: write %s: %d samples for %dx%d grid", path, len(g.Data), g.Height, g.Width)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "raster: create output dir")
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return eris.Wrapf(err, "raster: create %s", tmp)
	}
	epsg, err := encodeGeoTIFF(f, g)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "raster: encode %s", path)
	}

	if epsg {
		err = os.Remove(path + SidecarExt)
		if os.IsNotExist(err) {
			err = nil
		}
	} else {
		err = writeSidecar(path, sidecar{CRS: g.CRS})
	}
	if err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "raster: header for %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		return eris.Wrapf(err, "raster: rename %s", tmp)
	}
	return nil
}

// encodeGeoTIFF writes g as a little-endian classic TIFF. It reports whether
// the CRS fit in the GeoKey directory.
func encodeGeoTIFF(f *os.File, g *Grid) (bool, error) {
	order := binary.LittleEndian
	bits, format := 8, uint16(sampleUint)
	switch g.DType {
	case Uint16:
		bits = 16
	case Float32:
		bits, format = 32, sampleFloat
	}
	bps := bits / 8

	w := bufio.NewWriter(f)
	header := []byte{'I', 'I', 42, 0, 0, 0, 0, 0}
	if _, err := w.Write(header); err != nil {
		return false, err
	}
	pos := uint64(len(header))

	across := (g.Width + tileSize - 1) / tileSize
	down := (g.Height + tileSize - 1) / tileSize
	offsets := make([]uint32, 0, across*down)
	counts := make([]uint32, 0, across*down)

	raw := make([]byte, tileSize*tileSize*bps)
	fill := make([]byte, bps)
	putSample(order, g.DType, fill, g.Fill())
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	for ty := 0; ty < down; ty++ {
		for tx := 0; tx < across; tx++ {
			for y := 0; y < tileSize; y++ {
				row := ty*tileSize + y
				for x := 0; x < tileSize; x++ {
					col := tx*tileSize + x
					dst := raw[(y*tileSize+x)*bps:]
					if row < g.Height && col < g.Width {
						putSample(order, g.DType, dst, g.Data[row*g.Width+col])
					} else {
						copy(dst, fill)
					}
				}
			}
			buf.Reset()
			zw.Reset(&buf)
			if _, err := zw.Write(raw); err != nil {
				return false, err
			}
			if err := zw.Close(); err != nil {
				return false, err
			}
			if pos+uint64(buf.Len()) > math.MaxUint32 {
				return false, eris.New("raster exceeds 4 GiB classic TIFF limit")
			}
			offsets = append(offsets, uint32(pos))
			counts = append(counts, uint32(buf.Len()))
			n, err := w.Write(buf.Bytes())
			if err != nil {
				return false, err
			}
			pos += uint64(n)
		}
	}
	if pos%2 == 1 {
		if err := w.WriteByte(0); err != nil {
			return false, err
		}
		pos++
	}

	keys, epsg := geoKeyDirectory(g.CRS)
	fields := []field{
		longField(order, tagImageWidth, uint32(g.Width)),
		longField(order, tagImageLength, uint32(g.Height)),
		shortField(order, tagBitsPerSample, uint16(bits)),
		shortField(order, tagCompression, compressionDeflate),
		shortField(order, tagPhotometric, 1),
		shortField(order, tagSamplesPerPixel, 1),
		shortField(order, tagPlanarConfig, planarChunky),
		shortField(order, tagTileWidth, tileSize),
		shortField(order, tagTileLength, tileSize),
		longField(order, tagTileOffsets, offsets...),
		longField(order, tagTileByteCounts, counts...),
		shortField(order, tagSampleFormat, format),
		shortField(order, tagGeoKeyDirectory, keys...),
	}
	t := g.Transform
	if t.A > 0 && t.E < 0 {
		fields = append(fields,
			doubleField(order, tagModelPixelScale, t.A, -t.E, 0),
			doubleField(order, tagModelTiepoint, 0, 0, 0, t.C, t.F, 0))
	} else {
		fields = append(fields, doubleField(order, tagModelTransformation,
			t.A, t.B, 0, t.C,
			t.D, t.E, 0, t.F,
			0, 0, 0, 0,
			0, 0, 0, 1))
	}
	if g.NoData != nil {
		fields = append(fields, asciiField(tagGDALNoData, strconv.FormatFloat(*g.NoData, 'g', -1, 64)))
	}
	if _, err := writeIFD(w, order, uint32(pos), fields); err != nil {
		return false, err
	}
	if err := w.Flush(); err != nil {
		return false, err
	}
	var off [4]byte
	order.PutUint32(off[:], uint32(pos))
	if _, err := f.WriteAt(off[:], 4); err != nil {
		return false, err
	}
	return epsg, nil
}

func putSample(order binary.ByteOrder, dt DType, b []byte, v float32) {
	switch dt {
	case Uint8:
		b[0] = uint8(clampSample(v, math.MaxUint8))
	case Uint16:
		order.PutUint16(b, uint16(clampSample(v, math.MaxUint16)))
	default:
		order.PutUint32(b, math.Float32bits(v))
	}
}

func clampSample(v float32, hi float64) float64 {
	f := float64(v)
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > hi:
		return hi
	}
	return math.Round(f)
}

// readSidecar returns nil when the raster has no sidecar.
func readSidecar(path string) (*sidecar, error) {
	data, err := os.ReadFile(path + SidecarExt)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "raster: read header for %s", path)
	}
	var sc sidecar
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, eris.Wrapf(err, "raster: parse header for %s", path)
	}
	return &sc, nil
}

func writeSidecar(path string, sc sidecar) error {
	data, err := yaml.Marshal(&sc)
	if err != nil {
		return err
	}
	return os.WriteFile(path+SidecarExt, data, 0o644)
}

// Stem returns the file name of path without directory or extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// List returns the raster payloads (.tif and .tiff) in dir, sorted by name.
func List(dir string) ([]string, error) {
	var out []string
	for _, pattern := range []string{"*.tif", "*.tiff"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, eris.Wrapf(err, "raster: list %s", dir)
		}
		out = append(out, matches...)
	}
	sort.Strings(out)
	return out, nil
}
