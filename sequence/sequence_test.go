package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zonebnation/ebizimba-content/interfaces"
)

func TestPattern_IDAndNumber(t *testing.T) {
	p := Pages()
	assert.Equal(t, interfaces.ContentID("quran-page-001"), p.ID(1))
	assert.Equal(t, interfaces.ContentID("quran-page-604"), p.ID(604))
	assert.Equal(t, 604, p.Len())

	tests := []struct {
		id     interfaces.ContentID
		number int
		ok     bool
	}{
		{"quran-page-001", 1, true},
		{"quran-page-250", 250, true},
		{"quran-page-604", 604, true},
		{"quran-page-000", 0, false},
		{"quran-page-605", 0, false},
		{"quran-page-1", 0, false},
		{"quran-page-0001", 0, false},
		{"quran-page-+01", 0, false},
		{"quran-page-", 0, false},
		{"page-001", 0, false},
		{"book-42", 0, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			n, ok := p.Number(tt.id)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.number, n)
		})
	}
}

func TestPattern_Offset(t *testing.T) {
	p := Pages()

	next, ok := p.Offset("quran-page-010", 5)
	require.True(t, ok)
	assert.Equal(t, interfaces.ContentID("quran-page-015"), next)

	prev, ok := p.Offset("quran-page-010", -2)
	require.True(t, ok)
	assert.Equal(t, interfaces.ContentID("quran-page-008"), prev)

	_, ok = p.Offset("quran-page-001", -1)
	assert.False(t, ok)
	_, ok = p.Offset("quran-page-604", 1)
	assert.False(t, ok)
	_, ok = p.Offset("unknown", 1)
	assert.False(t, ok)
}

func TestPattern_Range(t *testing.T) {
	p := Pages()

	ids, err := p.Range("quran-page-009", "quran-page-012")
	require.NoError(t, err)
	assert.Equal(t, []interfaces.ContentID{"quran-page-009", "quran-page-010", "quran-page-011", "quran-page-012"}, ids)

	ids, err = p.Range("quran-page-001", "quran-page-604")
	require.NoError(t, err)
	assert.Len(t, ids, 604)

	_, err = p.Range("quran-page-012", "quran-page-009")
	assert.ErrorIs(t, err, interfaces.ErrInvalidRange)
	_, err = p.Range("quran-page-001", "quran-page-999")
	assert.ErrorIs(t, err, interfaces.ErrInvalidRange)
	_, err = p.Range("x", "quran-page-002")
	assert.ErrorIs(t, err, interfaces.ErrInvalidRange)
}

func TestList(t *testing.T) {
	l := NewList([]interfaces.ContentID{"v1", "v2", "v3", "v2", "v4"})
	assert.Equal(t, 4, l.Len())

	next, ok := l.Offset("v2", 2)
	require.True(t, ok)
	assert.Equal(t, interfaces.ContentID("v4"), next)

	_, ok = l.Offset("v1", -1)
	assert.False(t, ok)

	ids, err := l.Range("v2", "v4")
	require.NoError(t, err)
	assert.Equal(t, []interfaces.ContentID{"v2", "v3", "v4"}, ids)

	_, err = l.Range("v4", "v1")
	assert.ErrorIs(t, err, interfaces.ErrInvalidRange)
}
