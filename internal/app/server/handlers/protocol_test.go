package handlers

import (
	"errors"
	"net/http"
	"testing"

	"possync/internal/core/domain"
)

func TestParseFilters(t *testing.T) {
	filters, err := ParseFilters([]string{"price>=5", "name==Latte", "available==true", "stock!=0", "rank<3"})
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.Filter{
		domain.Where("price", domain.OpGte, 5.0),
		domain.Where("name", domain.OpEq, "Latte"),
		domain.Where("available", domain.OpEq, true),
		domain.Where("stock", domain.OpNeq, 0.0),
		domain.Where("rank", domain.OpLt, 3.0),
	}
	for i, f := range filters {
		if f != want[i] {
			t.Errorf("filter %d = %+v, want %+v", i, f, want[i])
		}
	}
	split, err := ParseFilters([]string{"note==a>=b", "tag<x!=y"})
	if err != nil {
		t.Fatal(err)
	}
	if split[0] != domain.Where("note", domain.OpEq, "a>=b") || split[1] != domain.Where("tag", domain.OpLt, "x!=y") {
		t.Fatalf("leftmost operator not used: %+v", split)
	}
	for _, bad := range []string{"price", "==5", ""} {
		if _, err := ParseFilters([]string{bad}); !errors.Is(err, domain.ErrDecoding) {
			t.Errorf("%q: expected decoding error, got %v", bad, err)
		}
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.NewError("get", domain.ResourcePath{}, domain.ErrNotFound, nil), http.StatusNotFound},
		{domain.NewError("set", domain.ResourcePath{}, domain.ErrDecoding, nil), http.StatusBadRequest},
		{domain.NewError("set", domain.ResourcePath{}, domain.ErrWriteFailed, nil), http.StatusUnprocessableEntity},
		{domain.NewError("set", domain.ResourcePath{}, domain.ErrPermissionDenied, nil), http.StatusForbidden},
		{domain.NewError("transact", domain.ResourcePath{}, domain.ErrTransactionConflict, nil), http.StatusConflict},
		{domain.NewError("batch", domain.ResourcePath{}, domain.ErrBatchTooLarge, nil), http.StatusRequestEntityTooLarge},
		{domain.Classify("get", domain.ResourcePath{}, domain.ErrUnavailable), http.StatusServiceUnavailable},
		{domain.NewError("get", domain.ResourcePath{}, domain.ErrTransport, nil), http.StatusBadGateway},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusCode(tt.err); got != tt.want {
			t.Errorf("%v: got %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestClientFramePath(t *testing.T) {
	p, err := ClientFrame{Path: "shops/s1/menu_items/latte"}.ResourcePath()
	if err != nil || p != domain.ShopPath("s1", domain.CollectionMenuItems, "latte") {
		t.Fatalf("path form: %+v %v", p, err)
	}
	p, err = ClientFrame{Collection: "menus"}.ResourcePath()
	if err != nil || !p.IsCollection() {
		t.Fatalf("split form: %+v %v", p, err)
	}
	if _, err := (ClientFrame{}).ResourcePath(); err == nil {
		t.Fatal("empty frame should be invalid")
	}
}
