package apiclient

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ListOptions carries the common list query parameters.
type ListOptions struct {
	Page   int
	Limit  int
	Search string
	Status string
}

func (options ListOptions) query() url.Values {
	values := url.Values{}
	if options.Page > 0 {
		values.Set("page", strconv.Itoa(options.Page))
	}
	if options.Limit > 0 {
		values.Set("limit", strconv.Itoa(options.Limit))
	}
	if strings.TrimSpace(options.Search) != "" {
		values.Set("search", strings.TrimSpace(options.Search))
	}
	if strings.TrimSpace(options.Status) != "" {
		values.Set("status", strings.TrimSpace(options.Status))
	}
	return values
}

// Resource is a CRUD passthrough for one collection endpoint.
type Resource[T any] struct {
	client *Client
	path   string
}

// NewResource binds a collection path such as "/api/plans".
func NewResource[T any](client *Client, path string) Resource[T] {
	return Resource[T]{client: client, path: "/" + strings.Trim(path, "/")}
}

// Path returns the collection path.
func (resource Resource[T]) Path() string {
	return resource.path
}

// List fetches the collection.
func (resource Resource[T]) List(ctx context.Context, options ListOptions) ([]T, error) {
	var items []T
	if err := resource.client.GetJSON(ctx, resource.path, options.query(), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Get fetches one item.
func (resource Resource[T]) Get(ctx context.Context, id string) (T, error) {
	var item T
	err := resource.client.GetJSON(ctx, resource.itemPath(id), nil, &item)
	return item, err
}

// Create posts a new item and returns the server copy.
func (resource Resource[T]) Create(ctx context.Context, item T) (T, error) {
	var created T
	err := resource.client.PostJSON(ctx, resource.path, item, &created)
	return created, err
}

// Update replaces fields of an item and returns the server copy.
func (resource Resource[T]) Update(ctx context.Context, id string, changes any) (T, error) {
	var updated T
	err := resource.client.PatchJSON(ctx, resource.itemPath(id), changes, &updated)
	return updated, err
}

// Delete removes an item.
func (resource Resource[T]) Delete(ctx context.Context, id string) error {
	return resource.client.DeleteJSON(ctx, resource.itemPath(id), nil)
}

func (resource Resource[T]) itemPath(id string) string {
	return resource.path + "/" + url.PathEscape(id)
}

// AdminUser is a customer or staff account.
type AdminUser struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// Pet is an animal registered to a customer.
type Pet struct {
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name"`
	Species     string  `json:"species"`
	Breed       string  `json:"breed,omitempty"`
	OwnerID     string  `json:"ownerId"`
	BirthDate   string  `json:"birthDate,omitempty"`
	WeightKg    float64 `json:"weightKg,omitempty"`
	MicrochipID string  `json:"microchipId,omitempty"`
}

// Plan is a subscription plan.
type Plan struct {
	ID           string   `json:"id,omitempty"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	PriceCents   int64    `json:"priceCents"`
	Interval     string   `json:"interval"`
	ServiceIDs   []string `json:"serviceIds,omitempty"`
	MonthlyLimit int      `json:"monthlyLimit,omitempty"`
	Active       bool     `json:"active"`
}

// Service is a bookable pet service.
type Service struct {
	ID              string `json:"id,omitempty"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	PriceCents      int64  `json:"priceCents"`
	DurationMinutes int    `json:"durationMinutes"`
	Active          bool   `json:"active"`
}

// Appointment is a scheduled service slot.
type Appointment struct {
	ID        string    `json:"id,omitempty"`
	PetID     string    `json:"petId"`
	ServiceID string    `json:"serviceId"`
	StartsAt  time.Time `json:"startsAt"`
	Status    string    `json:"status,omitempty"`
	Notes     string    `json:"notes,omitempty"`
}

// Banner is a promotional banner shown in the customer app.
type Banner struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
	LinkURL  string `json:"linkUrl,omitempty"`
	Position int    `json:"position"`
	Active   bool   `json:"active"`
}

// Microchip is a registry entry linking a chip number to a pet.
type Microchip struct {
	ID           string `json:"id,omitempty"`
	Number       string `json:"number"`
	PetID        string `json:"petId,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Status       string `json:"status,omitempty"`
}

// CashbackRule grants credit for qualifying purchases.
type CashbackRule struct {
	ID         string  `json:"id,omitempty"`
	Name       string  `json:"name"`
	Percentage float64 `json:"percentage"`
	MaxCents   int64   `json:"maxCents,omitempty"`
	Active     bool    `json:"active"`
}

// Payment is a processed or pending charge.
type Payment struct {
	ID          string    `json:"id,omitempty"`
	UserID      string    `json:"userId"`
	PlanID      string    `json:"planId,omitempty"`
	AmountCents int64     `json:"amountCents"`
	Status      string    `json:"status"`
	Method      string    `json:"method,omitempty"`
	PaidAt      time.Time `json:"paidAt,omitzero"`
}

// Report is a generated or uploaded report.
type Report struct {
	ID          string    `json:"id,omitempty"`
	Name        string    `json:"name"`
	Kind        string    `json:"kind"`
	Attachments []string  `json:"attachments,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
}

// Users returns the users resource.
func (client *Client) Users() Resource[AdminUser] {
	return NewResource[AdminUser](client, "/api/users")
}

// Pets returns the pets resource.
func (client *Client) Pets() Resource[Pet] { return NewResource[Pet](client, "/api/pets") }

// Plans returns the subscription plans resource.
func (client *Client) Plans() Resource[Plan] { return NewResource[Plan](client, "/api/plans") }

// Services returns the services resource.
func (client *Client) Services() Resource[Service] {
	return NewResource[Service](client, "/api/services")
}

// Schedules returns the appointments resource.
func (client *Client) Schedules() Resource[Appointment] {
	return NewResource[Appointment](client, "/api/schedules")
}

// Banners returns the banners resource.
func (client *Client) Banners() Resource[Banner] { return NewResource[Banner](client, "/api/banners") }

// Microchips returns the microchip registry resource.
func (client *Client) Microchips() Resource[Microchip] {
	return NewResource[Microchip](client, "/api/microchips")
}

// Cashback returns the cashback rules resource.
func (client *Client) Cashback() Resource[CashbackRule] {
	return NewResource[CashbackRule](client, "/api/cashback")
}

// Payments returns the payments resource.
func (client *Client) Payments() Resource[Payment] {
	return NewResource[Payment](client, "/api/payments")
}

// Reports returns the reports resource.
func (client *Client) Reports() Resource[Report] { return NewResource[Report](client, "/api/reports") }

// UploadReportAttachment uploads a file to a report through the multipart path.
func (client *Client) UploadReportAttachment(ctx context.Context, reportID string, file UploadFile, progress func(UploadProgress)) error {
	if file.FieldName == "" {
		file.FieldName = "file"
	}
	return client.Upload(ctx, UploadRequest{
		Path:     "/api/reports/upload",
		Fields:   map[string]string{"reportId": reportID},
		Files:    []UploadFile{file},
		Progress: progress,
	})
}
