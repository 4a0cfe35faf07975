package alerts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJournal_NewestFirst(t *testing.T) {
	j := NewJournal(3)
	ctx := context.Background()

	assert.Empty(t, j.Recent())

	j.Notify(ctx, Alert{Title: "a"})
	j.Notify(ctx, Alert{Title: "b"})
	assert.Equal(t, []string{"b", "a"}, titles(j.Recent()))

	j.Notify(ctx, Alert{Title: "c"})
	j.Notify(ctx, Alert{Title: "d"})
	assert.Equal(t, []string{"d", "c", "b"}, titles(j.Recent()))
}

func TestJournal_DefaultSize(t *testing.T) {
	j := NewJournal(0)
	for i := 0; i < 150; i++ {
		j.Notify(context.Background(), Alert{Title: "x"})
	}
	assert.Len(t, j.Recent(), 100)
}

func TestFanout(t *testing.T) {
	a, b := NewJournal(5), NewJournal(5)
	f := Fanout{a, LogNotifier{}, b}

	f.Notify(context.Background(), Alert{Severity: SeverityCritical, Title: "tripped", Fields: map[string]string{"path": "audit"}})

	assert.Len(t, a.Recent(), 1)
	assert.Len(t, b.Recent(), 1)
}

func titles(as []Alert) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.Title)
	}
	return out
}
