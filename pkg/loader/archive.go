package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/daimatz/jenhance/pkg/pipeline"
)

// Report summarizes an archive rewrite.
type Report struct {
	Entries  int
	Classes  int
	Enhanced int
	// Outputs holds the pipeline outcome of every class entry, in archive
	// order.
	Outputs []pipeline.Output
	// Err combines the failures of classes written unenhanced.
	Err error
}

// RewriteArchive copies the jar in r to w, replacing every class entry by
// its enhanced form. Entries keep their order, names and timestamps;
// entries other than classes are copied without recompression. A class
// that cannot be enhanced is written unchanged and reported in Report.Err.
// Signature files are copied as they are, so a signed jar whose classes
// change no longer verifies.
func RewriteArchive(ctx context.Context, r io.ReaderAt, size int64, w io.Writer, p *pipeline.Pipeline, concurrency int) (*Report, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("rewrite: opening zip: %w", err)
	}

	var (
		inputs []pipeline.Input
		slot   = make(map[*zip.File]int)
	)
	for _, f := range zr.File {
		if !isClassEntry(f.Name) {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		slot[f] = len(inputs)
		inputs = append(inputs, pipeline.Input{Name: f.Name, Data: data})
	}

	outs, err := p.RunAll(ctx, inputs, concurrency)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("rewrite: %w", ctxErr)
	}
	rep := &Report{Entries: len(zr.File), Classes: len(inputs), Outputs: outs, Err: err}

	zw := zip.NewWriter(w)
	zw.SetComment(zr.Comment)
	for _, f := range zr.File {
		i, ok := slot[f]
		if !ok {
			if err := zw.Copy(f); err != nil {
				return nil, fmt.Errorf("rewrite: copying %s: %w", f.Name, err)
			}
			continue
		}
		res := outs[i].Result
		if res.Enhanced {
			rep.Enhanced++
		}
		hdr := f.FileHeader
		hdr.Method = zip.Deflate
		hdr.CRC32 = 0
		hdr.CompressedSize64 = 0
		hdr.UncompressedSize64 = 0
		// Extra fields describe the original data, such as its zip64 sizes.
		hdr.Extra = nil
		ew, err := zw.CreateHeader(&hdr)
		if err != nil {
			return nil, fmt.Errorf("rewrite: creating %s: %w", f.Name, err)
		}
		if _, err := ew.Write(res.Output); err != nil {
			return nil, fmt.Errorf("rewrite: writing %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("rewrite: finishing zip: %w", err)
	}
	return rep, nil
}

// isClassEntry reports whether a jar entry is a class the pipeline should
// see. Module and package descriptors carry no methods to wrap.
func isClassEntry(name string) bool {
	if !strings.HasSuffix(name, ".class") {
		return false
	}
	base := name[strings.LastIndexByte(name, '/')+1:]
	return base != "module-info.class" && base != "package-info.class"
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("rewrite: opening %s: %w", f.Name, err)
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, fmt.Errorf("rewrite: reading %s: %w", f.Name, err)
	}
	return buf.Bytes(), nil
}
