package pdfdoc

import (
	"encoding/json"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
)

// Default page geometry, US letter in points.
const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
)

type field struct {
	Name      string      `json:"name"`
	Page      int         `json:"page"`
	Rect      domain.Rect `json:"rect"`
	Container []byte      `json:"container,omitempty"`
}

type envelope struct {
	Content []byte        `json:"content"`
	Pages   []domain.Rect `json:"pages"`
	Fields  []field       `json:"fields,omitempty"`
}

// Memory is the value-semantics document the signing core operates on. Every
// mutation copies, so a failed signing attempt leaves the input untouched and
// the unit can be retried from the original bytes.
type Memory struct {
	content []byte
	pages   []domain.Rect
	fields  []field
}

// New builds a document over content with pageCount default-geometry pages.
func New(content []byte, pageCount int) *Memory {
	if pageCount < 1 {
		pageCount = 1
	}
	pages := make([]domain.Rect, pageCount)
	for i := range pages {
		pages[i] = domain.Rect{Width: defaultPageWidth, Height: defaultPageHeight}
	}
	return &Memory{content: content, pages: pages}
}

// Parse restores a document previously serialized with Bytes.
func Parse(raw []byte) (*Memory, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, domain.WrapError(domain.CodeMalformedDocument, "parse document", err)
	}
	if len(env.Pages) == 0 {
		return nil, domain.NewError(domain.CodeMalformedDocument, "document has no pages")
	}
	return &Memory{content: env.Content, pages: env.Pages, fields: env.Fields}, nil
}

func (m *Memory) clone() *Memory {
	out := &Memory{
		content: m.content,
		pages:   append([]domain.Rect(nil), m.pages...),
		fields:  make([]field, len(m.fields)),
	}
	copy(out.fields, m.fields)
	return out
}

func (m *Memory) PageCount() int { return len(m.pages) }

// PageGeometry returns the bounds of a zero-based page.
func (m *Memory) PageGeometry(page int) (domain.Rect, error) {
	if page < 0 || page >= len(m.pages) {
		return domain.Rect{}, domain.Errorf(domain.CodeInvalidPlacement,
			"page %d out of range, document has %d page(s)", page, len(m.pages))
	}
	return m.pages[page], nil
}

// AddField creates an empty signature field. The rejection messages name the
// offending values so batch error lists stay actionable.
func (m *Memory) AddField(name string, page int, rect domain.Rect) (domain.Document, error) {
	if name == "" {
		return nil, domain.NewError(domain.CodeInvalidPlacement, "field name is required")
	}
	geometry, err := m.PageGeometry(page)
	if err != nil {
		return nil, err
	}
	if rect.X < 0 || rect.Y < 0 {
		return nil, domain.Errorf(domain.CodeInvalidPlacement,
			"field %q has negative origin (%.1f, %.1f)", name, rect.X, rect.Y)
	}
	if rect.Width <= 0 || rect.Height <= 0 {
		return nil, domain.Errorf(domain.CodeInvalidPlacement,
			"field %q has non-positive size %.1fx%.1f", name, rect.Width, rect.Height)
	}
	if rect.X+rect.Width > geometry.Width || rect.Y+rect.Height > geometry.Height {
		return nil, domain.Errorf(domain.CodeInvalidPlacement,
			"field %q exceeds page %d bounds %.0fx%.0f", name, page, geometry.Width, geometry.Height)
	}
	for _, f := range m.fields {
		if f.Name == name {
			return nil, domain.Errorf(domain.CodeFieldNameConflict, "field %q already exists", name)
		}
	}
	out := m.clone()
	out.fields = append(out.fields, field{Name: name, Page: page, Rect: rect})
	return out, nil
}

// Embed stores an encoded signature container into an existing empty field.
func (m *Memory) Embed(fieldName string, container []byte) (domain.Document, error) {
	if len(container) == 0 {
		return nil, domain.NewError(domain.CodeInvalidPlacement, "signature container is empty")
	}
	for i, f := range m.fields {
		if f.Name != fieldName {
			continue
		}
		if len(f.Container) > 0 {
			return nil, domain.Errorf(domain.CodeFieldNameConflict, "field %q already holds a signature", fieldName)
		}
		out := m.clone()
		out.fields[i].Container = append([]byte(nil), container...)
		return out, nil
	}
	return nil, domain.Errorf(domain.CodeInvalidPlacement, "field %q does not exist", fieldName)
}

// ContentBytes serializes what a signature covers: the payload and page
// geometry. Field placements and signature values are excluded so adding or
// filling a later field leaves earlier signatures verifiable.
func (m *Memory) ContentBytes() []byte {
	data, _ := json.Marshal(envelope{Content: m.content, Pages: m.pages})
	return data
}

func (m *Memory) Bytes() []byte {
	data, _ := json.Marshal(envelope{Content: m.content, Pages: m.pages, Fields: m.fields})
	return data
}

// Signatures returns embedded containers keyed by field name. Unsigned
// fields are omitted.
func (m *Memory) Signatures() map[string][]byte {
	out := make(map[string][]byte)
	for _, f := range m.fields {
		if len(f.Container) > 0 {
			out[f.Name] = f.Container
		}
	}
	return out
}
