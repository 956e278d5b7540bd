package domsnap

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

const fixturePage = `<!DOCTYPE html>
<html><head><title>Fixture</title><style>p{}</style></head><body>
<a href="/home">Home</a>
<div><button>OK</button><span>42</span></div>
<div tabindex="-1">Skip me</div>
<div tabindex="0">Focus me</div>
<a href="/empty"></a>
<a href="/logo"><img alt="logo"></a>
<div style="display:none"><button>Hidden</button></div>
<input type="text" name="q" placeholder="Search">
<input type="hidden" name="csrf" value="x">
<script>var x = 1;</script>
</body></html>`

func buildFixture(t *testing.T) (*RawNode, *Snapshot) {
	t.Helper()
	raw, err := FromHTML(strings.NewReader(fixturePage))
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}
	snap, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return raw, snap
}

func TestFromHTML_RootSentinel(t *testing.T) {
	raw, snap := buildFixture(t)
	if raw.XPath != RootPath || snap.Root.Path != RootPath {
		t.Errorf("root path: got %q, want %q", snap.Root.Path, RootPath)
	}
	if !snap.Root.IsTopElement {
		t.Error("root: IsTopElement should be true")
	}
	if snap.Root.Parent() != nil {
		t.Error("root: Parent should be nil")
	}
}

func TestFromHTML_IndicesArePreorderFromOne(t *testing.T) {
	raw, snap := buildFixture(t)

	got := raw.Indices()
	for i, idx := range got {
		if idx != i+1 {
			t.Fatalf("indices: got %v, want 1..%d in order", got, len(got))
		}
	}

	// home link, OK button, tabindex=0 div, logo link, text input
	wantTags := []string{"a", "button", "div", "a", "input"}
	if snap.Len() != len(wantTags) {
		t.Fatalf("Len: got %d, want %d\n%s", snap.Len(), len(wantTags), snap.Render())
	}
	for i, tag := range wantTags {
		el, ok := snap.Lookup(i + 1)
		if !ok {
			t.Fatalf("Lookup(%d): missing", i+1)
		}
		if el.TagName != tag {
			t.Errorf("index %d: got <%s>, want <%s>", i+1, el.TagName, tag)
		}
	}
}

func TestFromHTML_IndexBijection(t *testing.T) {
	_, snap := buildFixture(t)

	seen := 0
	Walk(snap.Root, func(n Node) bool {
		el, ok := n.(*ElementNode)
		if !ok || !el.Indexed() {
			return true
		}
		seen++
		if snap.Index[el.HighlightIndex] != el {
			t.Errorf("Index[%d] does not point back at its element", el.HighlightIndex)
		}
		return true
	})
	if seen != len(snap.Index) {
		t.Errorf("indexed elements in tree: %d, entries in index: %d", seen, len(snap.Index))
	}
	for idx, el := range snap.Index {
		if el.HighlightIndex != idx {
			t.Errorf("Index[%d].HighlightIndex = %d", idx, el.HighlightIndex)
		}
	}
}

func TestFromHTML_ParentReferences(t *testing.T) {
	_, snap := buildFixture(t)
	Walk(snap.Root, func(n Node) bool {
		el, ok := n.(*ElementNode)
		if !ok {
			return true
		}
		for _, c := range el.Children {
			if c.Parent() != el {
				t.Errorf("child of %s has wrong parent", el.Path)
			}
		}
		return true
	})
}

func TestFromHTML_TextFilter(t *testing.T) {
	_, snap := buildFixture(t)
	var texts []string
	Walk(snap.Root, func(n Node) bool {
		if tn, ok := n.(*TextNode); ok {
			texts = append(texts, tn.Text)
		}
		return true
	})
	joined := strings.Join(texts, "|")
	if strings.Contains(joined, "42") {
		t.Errorf("numeric text kept: %q", joined)
	}
	if !strings.Contains(joined, "OK") {
		t.Errorf("text %q dropped: %q", "OK", joined)
	}
	if strings.Contains(joined, "var x") {
		t.Errorf("script content kept: %q", joined)
	}
}

func TestFromHTML_Exclusions(t *testing.T) {
	_, snap := buildFixture(t)
	Walk(snap.Root, func(n Node) bool {
		el, ok := n.(*ElementNode)
		if !ok {
			return true
		}
		switch el.TagName {
		case "script", "style":
			t.Errorf("<%s> should be excluded", el.TagName)
		case "a":
			if el.Attr("href") == "/empty" {
				t.Error("empty anchor should be excluded")
			}
		}
		return true
	})
}

func TestFromHTML_TabIndex(t *testing.T) {
	_, snap := buildFixture(t)
	var minusOne, zero *ElementNode
	Walk(snap.Root, func(n Node) bool {
		if el, ok := n.(*ElementNode); ok {
			switch el.Attr("tabindex") {
			case "-1":
				minusOne = el
			case "0":
				zero = el
			}
		}
		return true
	})
	if minusOne == nil || zero == nil {
		t.Fatal("tabindex fixtures not found")
	}
	if minusOne.IsInteractive || minusOne.Indexed() {
		t.Error("tabindex=-1: should not be interactive")
	}
	if !zero.IsInteractive || !zero.Indexed() {
		t.Error("tabindex=0: should be interactive and indexed")
	}
}

func TestFromHTML_HiddenNotIndexed(t *testing.T) {
	_, snap := buildFixture(t)
	Walk(snap.Root, func(n Node) bool {
		el, ok := n.(*ElementNode)
		if !ok {
			return true
		}
		if el.TagName == "button" && !el.IsVisible {
			if !el.IsInteractive {
				t.Error("hidden button: classifier result should be kept")
			}
			if el.Indexed() {
				t.Error("hidden button: should carry no index")
			}
		}
		if el.TagName == "input" && el.Attr("type") == "hidden" && el.Indexed() {
			t.Error("hidden input: should carry no index")
		}
		return true
	})
}

func TestFromHTML_NoDocument(t *testing.T) {
	if _, err := FromDocument(&html.Node{Type: html.DocumentNode}); err != ErrNoDocument {
		t.Errorf("empty document: got %v, want ErrNoDocument", err)
	}
}

func TestFromHTML_SingleCharacterTextDropped(t *testing.T) {
	raw, err := FromHTML(strings.NewReader(`<html><body><p>中</p><p>→</p><p>中文</p></body></html>`))
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}
	snap, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := snap.Text(); got != "中文" {
		t.Errorf("Text: got %q, want %q", got, "中文")
	}
}
