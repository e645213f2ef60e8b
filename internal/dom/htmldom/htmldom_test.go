package htmldom

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestValueProperty(t *testing.T) {
	doc := MustParse(`
		<input id="t" value="attr">
		<input id="cb" type="checkbox">
		<textarea id="ta">notes</textarea>
		<select id="s"><option value="a">A</option><option selected>B</option></select>`)

	in := doc.Query("#t")
	assert.Equal(t, "attr", in.Value())
	require.NoError(t, in.SetValue("typed"))
	assert.Equal(t, "typed", in.Value())
	v, _ := in.Attr("value")
	assert.Equal(t, "attr", v, "the attribute is not the property")

	assert.Equal(t, "on", doc.Query("#cb").Value())
	assert.Equal(t, "notes", doc.Query("#ta").Value())

	sel := doc.Query("#s")
	assert.Equal(t, "B", sel.Value())
	require.NoError(t, sel.SetValue("a"))
	assert.Equal(t, "a", sel.Value())
	require.NoError(t, sel.SetValue("missing"))
	assert.Equal(t, "", sel.Value())
}

func TestClickDefaults(t *testing.T) {
	doc := MustParse(`
		<input id="cb" type="checkbox">
		<input id="r1" type="radio" name="g" checked>
		<input id="r2" type="radio" name="g">
		<label id="l" for="cb">Toggle</label>`)

	require.NoError(t, doc.Query("#cb").Click())
	assert.True(t, doc.Query("#cb").Checked())

	require.NoError(t, doc.Query("#r2").Click())
	assert.True(t, doc.Query("#r2").Checked())
	assert.False(t, doc.Query("#r1").Checked(), "checking a radio clears its group")

	require.NoError(t, doc.Query("#l").Click())
	assert.False(t, doc.Query("#cb").Checked(), "label forwards the click")
	assert.Equal(t, 2, doc.Clicks("#cb"))

	var types []string
	for _, ev := range doc.Events() {
		if id, _ := ev.Target.Attr("id"); id == "r2" {
			types = append(types, ev.Type)
		}
	}
	assert.Equal(t, []string{"click", "input", "change"}, types)
}

func TestListenersBubble(t *testing.T) {
	doc := MustParse(`<form id="f"><input id="i"></form>`)
	var got []string
	require.NoError(t, doc.On("#f", "input", func(ev Event) {
		id, _ := ev.Target.Attr("id")
		got = append(got, id)
	}))

	require.NoError(t, doc.Query("#i").Dispatch("input"))
	assert.Equal(t, []string{"i"}, got)
}

func TestVisibleAndConnected(t *testing.T) {
	doc := MustParse(`
		<div id="a">shown</div>
		<div style="display: none"><span id="b">x</span></div>
		<input id="c" type="hidden">
		<div id="d" hidden></div>`)

	assert.True(t, doc.Query("#a").Visible())
	assert.False(t, doc.Query("#b").Visible())
	assert.False(t, doc.Query("#c").Visible())
	assert.False(t, doc.Query("#d").Visible())

	a := doc.Query("#a")
	assert.True(t, a.Connected())
	assert.Equal(t, 1, doc.Remove("#a"))
	assert.False(t, a.Connected())
}

func TestTraversal(t *testing.T) {
	doc := MustParse(`<div data-testid="od-pio" class="row"><span><input id="i"></span></div>`)
	in := doc.Query("#i")

	assert.Equal(t, "span", in.Parent().Tag())
	c := in.Closest("[data-testid]")
	require.NotNil(t, c)
	v, _ := c.Attr("data-testid")
	assert.Equal(t, "od-pio", v)
	assert.Nil(t, in.Closest(".missing"))
	assert.True(t, c.Matches(".row"))
	assert.Len(t, c.QueryAll("input"), 1)
}

func TestObserveNotifiesUntilCanceled(t *testing.T) {
	doc := MustParse(`<div id="root"></div>`)
	ctx, cancel := context.WithCancel(context.Background())

	notified := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- doc.Observe(ctx, func() {
			select {
			case notified <- struct{}{}:
			default:
			}
		})
	}()

	require.Eventually(t, func() bool {
		_ = doc.Append("#root", `<p data-testid="x"></p>`)
		select {
		case <-notified:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestFocus(t *testing.T) {
	doc := MustParse(`<input id="a">`)
	assert.Nil(t, doc.Focused())
	require.NoError(t, doc.Query("#a").Focus())
	require.NotNil(t, doc.Focused())
	assert.True(t, doc.Focused().Same(doc.Query("#a")))
}
