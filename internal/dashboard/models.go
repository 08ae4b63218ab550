package dashboard

import (
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Table names, also the realtime channel stems.
const (
	TableClients      = "clients"
	TableProjects     = "projects"
	TableAppointments = "appointments"
	TableInvoices     = "invoices"
	TableVoiceAgents  = "voice_agents"
)

// Tables lists every synced table.
var Tables = []string{TableClients, TableProjects, TableAppointments, TableInvoices, TableVoiceAgents}

type Client struct {
	bun.BaseModel `bun:"table:clients,alias:c"`

	ID        uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	Name      string    `bun:"name,notnull" json:"name"`
	Email     string    `bun:"email" json:"email,omitempty"`
	Phone     string    `bun:"phone" json:"phone,omitempty"`
	Company   string    `bun:"company" json:"company,omitempty"`
	Status    string    `bun:"status,notnull,default:'active'" json:"status"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

type Project struct {
	bun.BaseModel `bun:"table:projects,alias:p"`

	ID          uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ClientID    uuid.UUID  `bun:"client_id,type:uuid" json:"client_id"`
	Name        string     `bun:"name,notnull" json:"name"`
	Description string     `bun:"description" json:"description,omitempty"`
	Status      string     `bun:"status,notnull,default:'planning'" json:"status"`
	Budget      float64    `bun:"budget" json:"budget,omitempty"`
	DueDate     *time.Time `bun:"due_date" json:"due_date,omitempty"`
	CreatedAt   time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt   time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

type Appointment struct {
	bun.BaseModel `bun:"table:appointments,alias:a"`

	ID        uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ClientID  uuid.UUID `bun:"client_id,type:uuid" json:"client_id"`
	Title     string    `bun:"title,notnull" json:"title"`
	StartsAt  time.Time `bun:"starts_at,notnull" json:"starts_at"`
	EndsAt    time.Time `bun:"ends_at,notnull" json:"ends_at"`
	Status    string    `bun:"status,notnull,default:'scheduled'" json:"status"`
	Notes     string    `bun:"notes" json:"notes,omitempty"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

type Invoice struct {
	bun.BaseModel `bun:"table:invoices,alias:i"`

	ID        uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ClientID  uuid.UUID  `bun:"client_id,type:uuid" json:"client_id"`
	Number    string     `bun:"number,notnull" json:"number"`
	Amount    float64    `bun:"amount,notnull" json:"amount"`
	Currency  string     `bun:"currency,notnull,default:'USD'" json:"currency"`
	Status    string     `bun:"status,notnull,default:'draft'" json:"status"`
	DueDate   *time.Time `bun:"due_date" json:"due_date,omitempty"`
	PaidAt    *time.Time `bun:"paid_at" json:"paid_at,omitempty"`
	CreatedAt time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

type VoiceAgent struct {
	bun.BaseModel `bun:"table:voice_agents,alias:v"`

	ID          uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	Name        string    `bun:"name,notnull" json:"name"`
	Voice       string    `bun:"voice" json:"voice,omitempty"`
	PhoneNumber string    `bun:"phone_number" json:"phone_number,omitempty"`
	Status      string    `bun:"status,notnull,default:'inactive'" json:"status"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// ClientHandlers are the go-repository-bun handlers for clients.
func ClientHandlers() repository.ModelHandlers[*Client] {
	return repository.ModelHandlers[*Client]{
		NewRecord:     func() *Client { return &Client{} },
		GetID:         func(c *Client) uuid.UUID { return c.ID },
		SetID:         func(c *Client, id uuid.UUID) { c.ID = id },
		GetIdentifier: func() string { return "email" },
	}
}

func ProjectHandlers() repository.ModelHandlers[*Project] {
	return repository.ModelHandlers[*Project]{
		NewRecord:     func() *Project { return &Project{} },
		GetID:         func(p *Project) uuid.UUID { return p.ID },
		SetID:         func(p *Project, id uuid.UUID) { p.ID = id },
		GetIdentifier: func() string { return "name" },
	}
}

func AppointmentHandlers() repository.ModelHandlers[*Appointment] {
	return repository.ModelHandlers[*Appointment]{
		NewRecord:     func() *Appointment { return &Appointment{} },
		GetID:         func(a *Appointment) uuid.UUID { return a.ID },
		SetID:         func(a *Appointment, id uuid.UUID) { a.ID = id },
		GetIdentifier: func() string { return "title" },
	}
}

func InvoiceHandlers() repository.ModelHandlers[*Invoice] {
	return repository.ModelHandlers[*Invoice]{
		NewRecord:     func() *Invoice { return &Invoice{} },
		GetID:         func(i *Invoice) uuid.UUID { return i.ID },
		SetID:         func(i *Invoice, id uuid.UUID) { i.ID = id },
		GetIdentifier: func() string { return "number" },
	}
}

func VoiceAgentHandlers() repository.ModelHandlers[*VoiceAgent] {
	return repository.ModelHandlers[*VoiceAgent]{
		NewRecord:     func() *VoiceAgent { return &VoiceAgent{} },
		GetID:         func(v *VoiceAgent) uuid.UUID { return v.ID },
		SetID:         func(v *VoiceAgent, id uuid.UUID) { v.ID = id },
		GetIdentifier: func() string { return "phone_number" },
	}
}
