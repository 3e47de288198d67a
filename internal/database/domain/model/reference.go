package model

import (
	"regexp"
	"strings"

	"arc-database/internal/shared/errors"
)

// MaxSegmentLength bounds each path segment.
const MaxSegmentLength = 128

var validSegmentPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ReferenceKind tells the three reference types apart after ParsePath.
type ReferenceKind int

const (
	KindDatabase ReferenceKind = iota + 1
	KindCollection
	KindDocument
)

func (k ReferenceKind) String() string {
	switch k {
	case KindDatabase:
		return "database"
	case KindCollection:
		return "collection"
	case KindDocument:
		return "document"
	default:
		return "unknown"
	}
}

// Reference is implemented by DatabaseReference, CollectionReference and DocumentReference.
type Reference interface {
	Kind() ReferenceKind
	Path() string
}

// DatabaseReference identifies a logical database.
type DatabaseReference struct {
	Name string
}

// CollectionReference identifies a collection within a database. Query is only
// meaningful for reads and is not part of the collection's identity.
type CollectionReference struct {
	Database DatabaseReference
	Name     string
	Query    *Query
}

// DocumentReference identifies one document. ID is empty only for a pending create.
type DocumentReference struct {
	Collection CollectionReference
	ID         string
}

func (d DatabaseReference) Kind() ReferenceKind { return KindDatabase }
func (d DatabaseReference) Path() string        { return d.Name }

// Collection returns a reference to the named collection in d.
func (d DatabaseReference) Collection(name string) CollectionReference {
	return CollectionReference{Database: d, Name: name}
}

func (c CollectionReference) Kind() ReferenceKind { return KindCollection }
func (c CollectionReference) Path() string        { return c.Database.Name + "/" + c.Name }

// Doc returns a reference to document id in c.
func (c CollectionReference) Doc(id string) DocumentReference {
	return DocumentReference{Collection: c.WithoutQuery(), ID: id}
}

// WithQuery returns a copy of c carrying q.
func (c CollectionReference) WithQuery(q Query) CollectionReference {
	c.Query = &q
	return c
}

// WithoutQuery returns c stripped of its query, suitable as a map key.
func (c CollectionReference) WithoutQuery() CollectionReference {
	c.Query = nil
	return c
}

// Equal compares database and name, ignoring the attached query.
func (c CollectionReference) Equal(other CollectionReference) bool {
	return c.Database == other.Database && c.Name == other.Name
}

// EffectiveQuery returns the attached query or the empty query.
func (c CollectionReference) EffectiveQuery() Query {
	if c.Query == nil {
		return Query{}
	}
	return *c.Query
}

func (r DocumentReference) Kind() ReferenceKind { return KindDocument }
func (r DocumentReference) Path() string        { return r.Collection.Path() + "/" + r.ID }

// ParsePath parses database[/collection[/documentId]] into the matching reference type.
func ParsePath(path string) (Reference, error) {
	if path == "" {
		return nil, errors.NewMalformedReferenceError(path, "path is empty")
	}
	segments := strings.Split(path, "/")
	if len(segments) > 3 {
		return nil, errors.NewMalformedReferenceError(path, "expected at most 3 segments").
			WithDetail("segments", len(segments))
	}
	for i, segment := range segments {
		if err := ValidateSegment(segment); err != nil {
			return nil, errors.NewMalformedReferenceError(path, err.Error()).WithDetail("position", i)
		}
	}

	db := DatabaseReference{Name: segments[0]}
	switch len(segments) {
	case 1:
		return db, nil
	case 2:
		return db.Collection(segments[1]), nil
	default:
		return db.Collection(segments[1]).Doc(segments[2]), nil
	}
}

// ValidateSegment reports whether s may appear as a database, collection or document id.
func ValidateSegment(s string) error {
	switch {
	case s == "":
		return errors.NewInvalidArgumentError("empty segment")
	case len(s) > MaxSegmentLength:
		return errors.NewInvalidArgumentError("segment longer than 128 characters")
	case !validSegmentPattern.MatchString(s):
		return errors.NewInvalidArgumentError("segment " + s + " contains characters outside [A-Za-z0-9_-]")
	}
	return nil
}

// ParseDatabasePath parses path and requires a database reference.
func ParseDatabasePath(path string) (DatabaseReference, error) {
	ref, err := parseKind(path, KindDatabase)
	if err != nil {
		return DatabaseReference{}, err
	}
	return ref.(DatabaseReference), nil
}

// ParseCollectionPath parses path and requires a collection reference.
func ParseCollectionPath(path string) (CollectionReference, error) {
	ref, err := parseKind(path, KindCollection)
	if err != nil {
		return CollectionReference{}, err
	}
	return ref.(CollectionReference), nil
}

// ParseDocumentPath parses path and requires a document reference.
func ParseDocumentPath(path string) (DocumentReference, error) {
	ref, err := parseKind(path, KindDocument)
	if err != nil {
		return DocumentReference{}, err
	}
	return ref.(DocumentReference), nil
}

func parseKind(path string, want ReferenceKind) (Reference, error) {
	ref, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	if ref.Kind() != want {
		return nil, errors.NewMalformedReferenceError(path, "expected a "+want.String()+" reference, got "+ref.Kind().String()).
			WithDetail("expected", want.String())
	}
	return ref, nil
}
