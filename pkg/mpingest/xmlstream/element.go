package xmlstream

// Element is a detached XML subtree. It owns its attributes, text and
// children; nothing in it refers back to the decoder that produced it.
type Element struct {
	Name     string
	Attrs    map[string]string
	Text     string // character data before the first child element
	Children []*Element
}

// Attr returns the value of the named attribute.
func (e *Element) Attr(name string) (string, bool) {
	if e == nil {
		return "", false
	}
	v, ok := e.Attrs[name]
	return v, ok
}

// Find returns the first direct child with the given name, or nil.
func (e *Element) Find(name string) *Element {
	if e == nil {
		return nil
	}
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// FindAll returns every direct child with the given name in document order.
func (e *Element) FindAll(name string) []*Element {
	if e == nil {
		return nil
	}
	var out []*Element
	for _, c := range e.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}
