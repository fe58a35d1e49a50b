package serialized

// ComponentChanges groups one entity's component ranges for a message.
// Adjacent ranges are merged, so Ranges may be shorter than Len.
type ComponentChanges struct {
	Entity Range
	ranges []Range
	count  int
}

func NewComponentChanges(entity Range) ComponentChanges {
	return ComponentChanges{Entity: entity}
}

// Add appends one component range, extending the last range when r starts
// where it ended.
func (c *ComponentChanges) Add(r Range) {
	c.count++
	if n := len(c.ranges); n > 0 && c.ranges[n-1].End == r.Start {
		c.ranges[n-1].End = r.End
		return
	}
	c.ranges = append(c.ranges, r)
}

// AddAll moves other's components into c.
func (c *ComponentChanges) AddAll(other ComponentChanges) {
	for _, r := range other.ranges {
		if n := len(c.ranges); n > 0 && c.ranges[n-1].End == r.Start {
			c.ranges[n-1].End = r.End
		} else {
			c.ranges = append(c.ranges, r)
		}
	}
	c.count += other.count
}

// Len is the number of logical components.
func (c ComponentChanges) Len() int {
	return c.count
}

func (c ComponentChanges) Ranges() []Range {
	return c.ranges
}

// Size is the total component bytes, entity excluded.
func (c ComponentChanges) Size() int {
	n := 0
	for _, r := range c.ranges {
		n += r.Len()
	}
	return n
}

// AppendTo copies the component bytes out of buf.
func (c ComponentChanges) AppendTo(dst []byte, buf *Buffer) []byte {
	for _, r := range c.ranges {
		dst = append(dst, buf.Slice(r)...)
	}
	return dst
}
