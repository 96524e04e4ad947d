package domain

// Rect is a page-space rectangle. Coordinates and sizes must be
// non-negative; width and height must be positive for a usable field.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Placement locates a signature inside a document: the field to create and
// optional appearance metadata. Page is zero-based. Visual rendering is a
// collaborator concern; only the metadata travels with the signature.
type Placement struct {
	FieldName string `json:"field_name"`
	Page      int    `json:"page"`
	Rect      Rect   `json:"rect"`
	Reason    string `json:"reason,omitempty"`
	Location  string `json:"location,omitempty"`
	Contact   string `json:"contact,omitempty"`
}

// Document is the narrow collaborator interface the signing core consumes.
// Pages are zero-based. Every mutation returns a new value; inputs are never
// modified in place so intermediate states stay retry-safe.
type Document interface {
	PageCount() int
	PageGeometry(page int) (Rect, error)
	AddField(name string, page int, rect Rect) (Document, error)
	Embed(fieldName string, container []byte) (Document, error)
	// ContentBytes is the canonical byte run signatures cover. It excludes
	// embedded signature values so later signatures do not invalidate
	// earlier ones.
	ContentBytes() []byte
	Bytes() []byte
	// Signatures returns embedded containers keyed by field name.
	Signatures() map[string][]byte
}
