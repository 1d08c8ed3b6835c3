package decode

import (
	"fmt"

	"github.com/cognicore/mpingest/pkg/mpingest/xmlstream"
)

// Parser decodes one kind of top-level element of a dump file.
type Parser[T any] interface {
	// Tag is the name of the top-level element the parser consumes.
	Tag() string
	Decode(el *xmlstream.Element) (T, bool, error)
}

// GroupParser parses the health-topic-group dump.
type GroupParser struct{}

func (GroupParser) Tag() string { return "group" }

func (GroupParser) Decode(el *xmlstream.Element) (GroupDocument, bool, error) {
	return DecodeGroup(el)
}

// TopicParser parses the health-topic dump.
type TopicParser struct{}

func (TopicParser) Tag() string { return "health-topic" }

func (TopicParser) Decode(el *xmlstream.Element) (TopicDocument, bool, error) {
	return DecodeHealthTopic(el)
}

// Stream is a forward-only sequence of decoded documents. Elements that
// decode to the empty sentinel are skipped.
type Stream[T any] struct {
	x      *xmlstream.Extractor
	parser Parser[T]
	cur    T
	err    error
}

// Open opens path and returns a document stream for parser.
func Open[T any](path string, parser Parser[T]) (*Stream[T], error) {
	x, err := xmlstream.Open(path, parser.Tag())
	if err != nil {
		return nil, err
	}
	return NewStream(x, parser), nil
}

// NewStream wraps an existing extractor.
func NewStream[T any](x *xmlstream.Extractor, parser Parser[T]) *Stream[T] {
	return &Stream[T]{x: x, parser: parser}
}

// Next advances to the next non-empty document.
func (s *Stream[T]) Next() bool {
	if s.err != nil {
		return false
	}
	var zero T
	s.cur = zero

	for s.x.Next() {
		doc, ok, err := s.parser.Decode(s.x.Element())
		if err != nil {
			s.err = fmt.Errorf("decode <%s> #%d: %w", s.parser.Tag(), s.x.Count(), err)
			return false
		}
		if !ok {
			continue
		}
		s.cur = doc
		return true
	}

	s.err = s.x.Err()
	return false
}

// Document returns the document produced by the last successful Next.
func (s *Stream[T]) Document() T {
	return s.cur
}

// Err returns the first parse or decode error.
func (s *Stream[T]) Err() error {
	return s.err
}

// Close releases the underlying file.
func (s *Stream[T]) Close() error {
	return s.x.Close()
}
