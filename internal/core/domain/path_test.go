package domain

import (
	"errors"
	"testing"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		key  string
		want ResourcePath
	}{
		{"menu_items", CollectionPath("menu_items")},
		{"menu_items/latte", DocumentPath("menu_items", "latte")},
		{"shops/s1/staff", ShopPath("s1", "staff", "")},
		{"shops/s1/staff/ana", ShopPath("s1", "staff", "ana")},
		{"/shops/s1/", DocumentPath("shops", "s1")},
	}
	for _, tt := range tests {
		got, err := ParsePath(tt.key)
		if err != nil {
			t.Fatalf("ParsePath(%q): %v", tt.key, err)
		}
		if got != tt.want {
			t.Fatalf("ParsePath(%q) = %+v, want %+v", tt.key, got, tt.want)
		}
		if got.Key() != tt.want.Key() {
			t.Fatalf("key round trip %q != %q", got.Key(), tt.want.Key())
		}
	}
	if _, err := ParsePath("a//b"); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected invalid path, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	bad := []ResourcePath{
		{},
		{Collection: "a//b"},
		{Collection: "menu", DocumentID: "x/y"},
		{Collection: "shops/s1"},
		{Collection: "shops/s1", DocumentID: "menus"},
	}
	for _, p := range bad {
		if err := p.Validate(); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("%+v should be invalid", p)
		}
	}
	if err := ShopPath("s1", CollectionInventory, "milk").Validate(); err != nil {
		t.Fatalf("shop path: %v", err)
	}
	p := ShopPath("s1", CollectionInventory, "milk")
	if p.Parent() != ShopPath("s1", CollectionInventory, "") || !p.Parent().IsCollection() {
		t.Fatalf("parent %+v", p.Parent())
	}
}

func TestKeyDistinguishesCollectionFromDocument(t *testing.T) {
	doc := DocumentPath("a", "b")
	col := CollectionPath("a/b")
	if doc == col {
		t.Fatal("paths should differ")
	}
	if err := col.Validate(); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("even-depth collection accepted: %v", err)
	}
	nested := CollectionPath("a/b/c")
	if err := nested.Validate(); err != nil {
		t.Fatal(err)
	}
	for _, p := range []ResourcePath{doc, nested, nested.Doc("x")} {
		got, err := ParsePath(p.Key())
		if err != nil || got != p {
			t.Fatalf("ParsePath(%q) = %+v, %v; want %+v", p.Key(), got, err, p)
		}
	}
}
