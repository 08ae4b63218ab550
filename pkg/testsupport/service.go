package testsupport

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-faker/faker/v4"
	"github.com/goliatone/go-query-sync/entity"
	"github.com/google/uuid"
)

// Contact is a small row type for tests. Its kind is "contacts".
type Contact struct {
	ID        string    `json:"id" faker:"-"`
	Name      string    `json:"name" faker:"name"`
	Email     string    `json:"email" faker:"email"`
	Phone     string    `json:"phone" faker:"phone_number"`
	Status    string    `json:"status" faker:"oneof: active, inactive"`
	CreatedAt time.Time `json:"created_at" faker:"-"`
}

// FakeContact returns a contact filled by faker with a fresh id.
func FakeContact(t interface {
	Helper()
	Fatalf(string, ...any)
}) Contact {
	t.Helper()

	var c Contact
	if err := faker.FakeData(&c); err != nil {
		t.Fatalf("faker.FakeData(): %v", err)
	}
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now().UTC()
	return c
}

// FakeService is an in-memory entity.Service over Contact. It records call
// counts per method and can be made to fail or block.
type FakeService struct {
	mu      sync.Mutex
	rows    map[string]Contact
	order   []string
	calls   map[string]int
	errs    map[string]error
	gate    chan struct{}
	entered chan string
}

var _ entity.Service[Contact] = (*FakeService)(nil)

// NewFakeService returns a service holding rows.
func NewFakeService(rows ...Contact) *FakeService {
	s := &FakeService{
		rows:    make(map[string]Contact),
		calls:   make(map[string]int),
		errs:    make(map[string]error),
		entered: make(chan string, 64),
	}
	for _, r := range rows {
		s.put(r)
	}
	return s
}

// Calls returns how many times method was called.
func (s *FakeService) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// FailWith makes method return err until cleared with a nil err.
func (s *FakeService) FailWith(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, method)
		return
	}
	s.errs[method] = err
}

// Block makes every call wait until the returned release func is called.
func (s *FakeService) Block() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gate == gate {
				s.gate = nil
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Entered receives the method name of each call once it started.
func (s *FakeService) Entered() <-chan string { return s.entered }

// Put stores r as is, bypassing the call counters.
func (s *FakeService) Put(r Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(r)
}

func (s *FakeService) put(r Contact) {
	if _, ok := s.rows[r.ID]; !ok {
		s.order = append(s.order, r.ID)
	}
	s.rows[r.ID] = r
}

func (s *FakeService) enter(ctx context.Context, method string) error {
	s.mu.Lock()
	s.calls[method]++
	gate := s.gate
	err := s.errs[method]
	s.mu.Unlock()

	select {
	case s.entered <- method:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *FakeService) matching(f entity.Filters) []Contact {
	out := make([]Contact, 0, len(s.order))
	for _, id := range s.order {
		r := s.rows[id]
		if status, ok := f["status"]; ok && r.Status != status {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// List implements entity.Service.
func (s *FakeService) List(ctx context.Context, q entity.ListQuery) (entity.Page[Contact], error) {
	if err := s.enter(ctx, "List"); err != nil {
		return entity.Page[Contact]{}, err
	}
	q = q.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.matching(q.Filters)
	page := entity.Page[Contact]{Total: len(rows), Page: q.Pagination.Page, Limit: q.Pagination.Limit}
	start := q.Pagination.Offset()
	if start < len(rows) {
		end := min(start+q.Pagination.Limit, len(rows))
		page.Items = rows[start:end]
	}
	return page, nil
}

// Get implements entity.Service.
func (s *FakeService) Get(ctx context.Context, id string) (Contact, error) {
	if err := s.enter(ctx, "Get"); err != nil {
		return Contact{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[id]
	if !ok {
		return Contact{}, entity.NotFound("contacts", id)
	}
	return r, nil
}

// Count implements entity.Service.
func (s *FakeService) Count(ctx context.Context, f entity.Filters) (int, error) {
	if err := s.enter(ctx, "Count"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.matching(f)), nil
}

// Create implements entity.Service.
func (s *FakeService) Create(ctx context.Context, record Contact) (Contact, error) {
	if err := s.enter(ctx, "Create"); err != nil {
		return Contact{}, err
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(record)
	return record, nil
}

// Update implements entity.Service.
func (s *FakeService) Update(ctx context.Context, id string, patch Contact) (Contact, error) {
	if err := s.enter(ctx, "Update"); err != nil {
		return Contact{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[id]
	if !ok {
		return Contact{}, entity.NotFound("contacts", id)
	}
	if patch.Name != "" {
		r.Name = patch.Name
	}
	if patch.Email != "" {
		r.Email = patch.Email
	}
	if patch.Phone != "" {
		r.Phone = patch.Phone
	}
	if patch.Status != "" {
		r.Status = patch.Status
	}
	s.rows[id] = r
	return r, nil
}

// Remove implements entity.Service.
func (s *FakeService) Remove(ctx context.Context, id string) error {
	if err := s.enter(ctx, "Remove"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[id]; !ok {
		return entity.NotFound("contacts", id)
	}
	delete(s.rows, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
