package xmlstream

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/net/html/charset"

	"github.com/cognicore/mpingest/pkg/mpingest/internalerr"
)

// Extractor pulls complete elements with a given tag out of an XML stream.
//
// Only the subtree of the element being built is held in memory; every
// token outside a matching element is dropped as soon as it is read, so
// peak memory is bounded by the largest matching subtree. An Extractor is
// single pass: re-reading a source means opening it again.
type Extractor struct {
	dec    *xml.Decoder
	tag    string
	closer io.Closer

	cur   *Element
	count int
	err   error
	done  bool
}

// NewExtractor returns an extractor yielding elements named tag from r.
func NewExtractor(r io.Reader, tag string) *Extractor {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	return &Extractor{dec: dec, tag: tag}
}

// Open opens an XML file for extraction. Paths ending in ".gz" are
// decompressed transparently.
func Open(path, tag string) (*Extractor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	var (
		r       io.Reader = bufio.NewReaderSize(f, 64*1024)
		closers           = closerChain{f}
	)
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(r)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gzip %s: %w", path, err)
		}
		r = zr
		closers = closerChain{zr, f}
	}

	x := NewExtractor(r, tag)
	x.closer = closers
	return x, nil
}

// Next advances to the next matching element. It returns false at the end
// of the stream or on the first error; check Err afterwards.
func (x *Extractor) Next() bool {
	if x.done {
		return false
	}
	x.cur = nil

	for {
		tok, err := x.dec.Token()
		if errors.Is(err, io.EOF) {
			x.done = true
			return false
		}
		if err != nil {
			x.fail(err)
			return false
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != x.tag {
			continue
		}

		el, err := x.subtree(start)
		if err != nil {
			x.fail(err)
			return false
		}
		x.cur = el
		x.count++
		return true
	}
}

// Element returns the element produced by the last successful Next.
func (x *Extractor) Element() *Element {
	return x.cur
}

// Count reports how many elements have been yielded so far.
func (x *Extractor) Count() int {
	return x.count
}

// Err returns the first error met while reading, if any.
func (x *Extractor) Err() error {
	return x.err
}

// Close releases the underlying source when the extractor was created by Open.
func (x *Extractor) Close() error {
	x.done = true
	x.cur = nil
	if x.closer == nil {
		return nil
	}
	c := x.closer
	x.closer = nil
	return c.Close()
}

func (x *Extractor) fail(err error) {
	x.done = true
	x.cur = nil
	x.err = fmt.Errorf("%w: %w", internalerr.ErrMalformedXML, err)
}

// subtree consumes tokens up to the end element matching start.
func (x *Extractor) subtree(start xml.StartElement) (*Element, error) {
	type frame struct {
		el       *Element
		text     strings.Builder
		sawChild bool
	}

	root := &frame{el: newElement(start)}
	stack := []*frame{root}

	for len(stack) > 0 {
		tok, err := x.dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}

		top := stack[len(stack)-1]
		switch t := tok.(type) {
		case xml.StartElement:
			child := &frame{el: newElement(t)}
			top.el.Children = append(top.el.Children, child.el)
			top.sawChild = true
			stack = append(stack, child)
		case xml.CharData:
			// Text ends at the first child; tail text after a child is dropped.
			if !top.sawChild {
				top.text.Write(t)
			}
		case xml.EndElement:
			top.el.Text = top.text.String()
			stack = stack[:len(stack)-1]
		}
	}

	return root.el, nil
}

func newElement(start xml.StartElement) *Element {
	el := &Element{Name: start.Name.Local}
	if len(start.Attr) > 0 {
		el.Attrs = make(map[string]string, len(start.Attr))
		for _, a := range start.Attr {
			el.Attrs[a.Name.Local] = a.Value
		}
	}
	return el
}

type closerChain []io.Closer

func (cc closerChain) Close() error {
	var errs []error
	for _, c := range cc {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
