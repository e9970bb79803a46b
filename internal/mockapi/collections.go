package mockapi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tyemirov/animalplace/pkg/sessionvalidator"
)

var (
	// ErrDocumentNotFound is returned when no document has the requested id.
	ErrDocumentNotFound = errors.New("collection.not_found")
	// ErrDuplicateDocument is returned when the unique field collides with an existing document.
	ErrDuplicateDocument = errors.New("collection.duplicate")
	// ErrMissingUniqueField is returned when a document omits the collection's unique field.
	ErrMissingUniqueField = errors.New("collection.missing_field")
)

// Document is a schemaless JSON object held by a Collection.
type Document map[string]any

// CollectionSpec names a resource and the field that must be unique within it.
type CollectionSpec struct {
	Name        string
	Label       string
	UniqueField string
}

// DefaultCollections lists the dashboard resources served by the mock backend.
var DefaultCollections = []CollectionSpec{
	{Name: "users", Label: "User", UniqueField: "email"},
	{Name: "pets", Label: "Pet"},
	{Name: "plans", Label: "Plan", UniqueField: "name"},
	{Name: "services", Label: "Service", UniqueField: "name"},
	{Name: "schedules", Label: "Appointment"},
	{Name: "banners", Label: "Banner", UniqueField: "name"},
	{Name: "microchips", Label: "Microchip", UniqueField: "number"},
	{Name: "cashback", Label: "Cashback rule", UniqueField: "name"},
	{Name: "payments", Label: "Payment"},
	{Name: "reports", Label: "Report", UniqueField: "name"},
}

// ListQuery filters and pages a listing.
type ListQuery struct {
	Page   int
	Limit  int
	Search string
	Status string
}

// Collection is an insertion-ordered in-memory document set.
type Collection struct {
	spec  CollectionSpec
	clock sessionvalidator.Clock

	mutex sync.RWMutex
	order []string
	byID  map[string]Document
}

// NewCollection constructs an empty collection.
func NewCollection(spec CollectionSpec, clock sessionvalidator.Clock) *Collection {
	if clock == nil {
		clock = systemClock{}
	}
	if spec.Label == "" {
		spec.Label = spec.Name
	}
	return &Collection{spec: spec, clock: clock, byID: make(map[string]Document)}
}

// List returns matching documents in insertion order.
func (collection *Collection) List(query ListQuery) []Document {
	collection.mutex.RLock()
	defer collection.mutex.RUnlock()

	search := strings.ToLower(strings.TrimSpace(query.Search))
	matches := make([]Document, 0, len(collection.order))
	for _, documentID := range collection.order {
		document := collection.byID[documentID]
		if query.Status != "" && stringField(document, "status") != query.Status {
			continue
		}
		if search != "" && !documentMatches(document, search) {
			continue
		}
		matches = append(matches, cloneDocument(document))
	}
	if query.Limit <= 0 {
		return matches
	}
	page := query.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * query.Limit
	if start >= len(matches) {
		return []Document{}
	}
	end := start + query.Limit
	if end > len(matches) {
		end = len(matches)
	}
	return matches[start:end]
}

// Get returns a copy of the document with documentID.
func (collection *Collection) Get(documentID string) (Document, error) {
	collection.mutex.RLock()
	defer collection.mutex.RUnlock()
	document, ok := collection.byID[documentID]
	if !ok {
		return nil, fmt.Errorf("collection.%s.get: %w", collection.spec.Name, ErrDocumentNotFound)
	}
	return cloneDocument(document), nil
}

// Create assigns an id and creation time and stores the document.
func (collection *Collection) Create(input Document) (Document, error) {
	collection.mutex.Lock()
	defer collection.mutex.Unlock()

	document := cloneDocument(input)
	delete(document, "id")
	if err := collection.checkUniqueLocked(document, ""); err != nil {
		return nil, err
	}
	document["id"] = uuid.NewString()
	document["createdAt"] = collection.clock.Now().UTC().Format(time.RFC3339)
	collection.byID[document["id"].(string)] = document
	collection.order = append(collection.order, document["id"].(string))
	return cloneDocument(document), nil
}

// Update merges changes into the stored document.
func (collection *Collection) Update(documentID string, changes Document) (Document, error) {
	collection.mutex.Lock()
	defer collection.mutex.Unlock()

	existing, ok := collection.byID[documentID]
	if !ok {
		return nil, fmt.Errorf("collection.%s.update: %w", collection.spec.Name, ErrDocumentNotFound)
	}
	merged := cloneDocument(existing)
	for key, value := range changes {
		if key == "id" || key == "createdAt" {
			continue
		}
		merged[key] = value
	}
	if err := collection.checkUniqueLocked(merged, documentID); err != nil {
		return nil, err
	}
	collection.byID[documentID] = merged
	return cloneDocument(merged), nil
}

// Delete removes the document with documentID.
func (collection *Collection) Delete(documentID string) error {
	collection.mutex.Lock()
	defer collection.mutex.Unlock()

	if _, ok := collection.byID[documentID]; !ok {
		return fmt.Errorf("collection.%s.delete: %w", collection.spec.Name, ErrDocumentNotFound)
	}
	delete(collection.byID, documentID)
	for index, candidate := range collection.order {
		if candidate == documentID {
			collection.order = append(collection.order[:index], collection.order[index+1:]...)
			break
		}
	}
	return nil
}

// AppendAttachments adds file names to the document's attachments list.
func (collection *Collection) AppendAttachments(documentID string, names []string) (Document, error) {
	collection.mutex.Lock()
	defer collection.mutex.Unlock()

	existing, ok := collection.byID[documentID]
	if !ok {
		return nil, fmt.Errorf("collection.%s.attach: %w", collection.spec.Name, ErrDocumentNotFound)
	}
	updated := cloneDocument(existing)
	var attachments []any
	if current, isList := updated["attachments"].([]any); isList {
		attachments = append(attachments, current...)
	}
	for _, name := range names {
		attachments = append(attachments, name)
	}
	updated["attachments"] = attachments
	collection.byID[documentID] = updated
	return cloneDocument(updated), nil
}

// DuplicateMessage is the human-readable conflict message for value.
func (collection *Collection) DuplicateMessage(value string) string {
	return fmt.Sprintf("%s with %s %q already exists", collection.spec.Label, collection.spec.UniqueField, value)
}

func (collection *Collection) checkUniqueLocked(document Document, selfID string) error {
	field := collection.spec.UniqueField
	if field == "" {
		return nil
	}
	value := strings.TrimSpace(stringField(document, field))
	if value == "" {
		return fmt.Errorf("collection.%s: %w: %s", collection.spec.Name, ErrMissingUniqueField, field)
	}
	for documentID, candidate := range collection.byID {
		if documentID == selfID {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(stringField(candidate, field)), value) {
			return &DuplicateError{Message: collection.DuplicateMessage(value)}
		}
	}
	return nil
}

// DuplicateError carries the conflict message shown to dashboard users.
type DuplicateError struct {
	Message string
}

func (duplicate *DuplicateError) Error() string {
	return duplicate.Message
}

// Unwrap lets errors.Is match ErrDuplicateDocument.
func (duplicate *DuplicateError) Unwrap() error {
	return ErrDuplicateDocument
}

func stringField(document Document, field string) string {
	switch value := document[field].(type) {
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	default:
		return ""
	}
}

func documentMatches(document Document, search string) bool {
	for _, value := range document {
		if text, ok := value.(string); ok && strings.Contains(strings.ToLower(text), search) {
			return true
		}
	}
	return false
}

func cloneDocument(document Document) Document {
	clone := make(Document, len(document))
	for key, value := range document {
		clone[key] = value
	}
	return clone
}
