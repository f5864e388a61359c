// Package sequence defines logical orderings of content ids, used to pick
// prefetch neighbours and offline ranges.
package sequence

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zonebnation/ebizimba-content/interfaces"
)

// Default page sequence.
const (
	DefaultPagePrefix = "quran-page-"
	DefaultPageWidth  = 3
	DefaultFirstPage  = 1
	DefaultLastPage   = 604
)

// Pattern orders ids of the form <Prefix><zero-padded number> within
// [First, Last].
type Pattern struct {
	Prefix string
	Width  int
	First  int
	Last   int
}

// Pages returns the default page sequence, quran-page-001 to quran-page-604.
func Pages() Pattern {
	return Pattern{Prefix: DefaultPagePrefix, Width: DefaultPageWidth, First: DefaultFirstPage, Last: DefaultLastPage}
}

// ID returns the id of number n. It does not check bounds.
func (p Pattern) ID(n int) interfaces.ContentID {
	return interfaces.ContentID(fmt.Sprintf("%s%0*d", p.Prefix, p.Width, n))
}

// Number returns the position of id, or false if id is not part of the
// sequence.
func (p Pattern) Number(id interfaces.ContentID) (int, bool) {
	s, ok := strings.CutPrefix(string(id), p.Prefix)
	if !ok || s == "" || len(s) < p.Width {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < p.First || n > p.Last || s[0] == '-' || s[0] == '+' {
		return 0, false
	}
	if p.ID(n) != id {
		return 0, false
	}
	return n, true
}

// Len returns the number of ids in the sequence.
func (p Pattern) Len() int {
	if p.Last < p.First {
		return 0
	}
	return p.Last - p.First + 1
}

// Offset returns the id n positions from id.
func (p Pattern) Offset(id interfaces.ContentID, n int) (interfaces.ContentID, bool) {
	pos, ok := p.Number(id)
	if !ok {
		return "", false
	}
	pos += n
	if pos < p.First || pos > p.Last {
		return "", false
	}
	return p.ID(pos), true
}

// Range returns the ids from start to end inclusive.
func (p Pattern) Range(start, end interfaces.ContentID) ([]interfaces.ContentID, error) {
	from, ok := p.Number(start)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not in the sequence", interfaces.ErrInvalidRange, start)
	}
	to, ok := p.Number(end)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not in the sequence", interfaces.ErrInvalidRange, end)
	}
	if from > to {
		return nil, fmt.Errorf("%w: %s is after %s", interfaces.ErrInvalidRange, start, end)
	}
	ids := make([]interfaces.ContentID, 0, to-from+1)
	for n := from; n <= to; n++ {
		ids = append(ids, p.ID(n))
	}
	return ids, nil
}

// List orders an explicit list of ids, such as a video feed.
type List struct {
	ids   []interfaces.ContentID
	index map[interfaces.ContentID]int
}

// NewList creates a list sequence. Duplicate ids keep their first position.
func NewList(ids []interfaces.ContentID) *List {
	l := &List{index: make(map[interfaces.ContentID]int, len(ids))}
	for _, id := range ids {
		if _, ok := l.index[id]; ok {
			continue
		}
		l.index[id] = len(l.ids)
		l.ids = append(l.ids, id)
	}
	return l
}

// Len returns the number of ids in the list.
func (l *List) Len() int {
	return len(l.ids)
}

func (l *List) Offset(id interfaces.ContentID, n int) (interfaces.ContentID, bool) {
	pos, ok := l.index[id]
	if !ok {
		return "", false
	}
	pos += n
	if pos < 0 || pos >= len(l.ids) {
		return "", false
	}
	return l.ids[pos], true
}

func (l *List) Range(start, end interfaces.ContentID) ([]interfaces.ContentID, error) {
	from, ok := l.index[start]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not in the sequence", interfaces.ErrInvalidRange, start)
	}
	to, ok := l.index[end]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not in the sequence", interfaces.ErrInvalidRange, end)
	}
	if from > to {
		return nil, fmt.Errorf("%w: %s is after %s", interfaces.ErrInvalidRange, start, end)
	}
	return append([]interfaces.ContentID(nil), l.ids[from:to+1]...), nil
}

var (
	_ interfaces.Sequencer = Pattern{}
	_ interfaces.Sequencer = (*List)(nil)
)
