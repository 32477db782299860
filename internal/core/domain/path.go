package domain

import (
	"errors"
	"strings"
)

var ErrInvalidPath = errors.New("invalid resource path")

// ResourcePath addresses a collection (DocumentID empty) or a single document.
type ResourcePath struct {
	Collection string
	DocumentID string
}

func CollectionPath(collection string) ResourcePath {
	return ResourcePath{Collection: collection}
}

func DocumentPath(collection, id string) ResourcePath {
	return ResourcePath{Collection: collection, DocumentID: id}
}

// ShopPath scopes a collection under a shop: shops/{shopID}/{collection}.
func ShopPath(shopID, collection, docID string) ResourcePath {
	return ResourcePath{
		Collection: "shops/" + shopID + "/" + collection,
		DocumentID: docID,
	}
}

func (p ResourcePath) IsCollection() bool { return p.DocumentID == "" }

func (p ResourcePath) Doc(id string) ResourcePath {
	return ResourcePath{Collection: p.Collection, DocumentID: id}
}

func (p ResourcePath) Parent() ResourcePath {
	return ResourcePath{Collection: p.Collection}
}

// Key is the canonical string form used on the wire and in logs. It is
// injective over valid paths: collection keys have an odd segment count and
// document keys an even one.
func (p ResourcePath) Key() string {
	if p.DocumentID == "" {
		return p.Collection
	}
	return p.Collection + "/" + p.DocumentID
}

func (p ResourcePath) String() string { return p.Key() }

// Validate rejects empty segments and collections nested at an even depth,
// whose key would collide with a document key.
func (p ResourcePath) Validate() error {
	if p.Collection == "" {
		return ErrInvalidPath
	}
	segs := strings.Split(p.Collection, "/")
	for _, seg := range segs {
		if seg == "" {
			return ErrInvalidPath
		}
	}
	if len(segs)%2 == 0 {
		return ErrInvalidPath
	}
	if strings.Contains(p.DocumentID, "/") {
		return ErrInvalidPath
	}
	return nil
}

// ParsePath is the inverse of Key for valid paths: an even segment count
// names a document.
func ParsePath(key string) (ResourcePath, error) {
	segs := strings.Split(strings.Trim(key, "/"), "/")
	for _, s := range segs {
		if s == "" {
			return ResourcePath{}, ErrInvalidPath
		}
	}
	if len(segs)%2 == 1 {
		return ResourcePath{Collection: strings.Join(segs, "/")}, nil
	}
	return ResourcePath{
		Collection: strings.Join(segs[:len(segs)-1], "/"),
		DocumentID: segs[len(segs)-1],
	}, nil
}
