package domain

import (
	"strings"
	"time"
)

// Core domain models shared by the engine and its adapters. Adapters translate
// their wire formats into these types; keep them free of transport concerns.

// Unknown is the canonical sentinel for values that could not be resolved. It
// never enters a set.
const Unknown = "UNKNOWN"

// TotalKey is the Date of the run-wide document.
const TotalKey = "TOTAL"

// DateLayout is the layout of window keys and export lines.
const DateLayout = "2006-01-02"

// IsUnknown reports whether a raw or canonical value is the sentinel or empty.
func IsUnknown(v string) bool {
	return v == "" || strings.EqualFold(v, Unknown)
}

// TimeWindow is the half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

func (w TimeWindow) Key() string { return w.Start.Format(DateLayout) }

// Source names one bucket list returned by the event store for a window.
type Source string

const (
	SourceUsers       Source = "users"
	SourceProjects    Source = "projects"
	SourceResources   Source = "resources"
	SourceResourceIDs Source = "resource_ids"
)

// Category names one deduplicated set tracked per window and per run.
type Category string

const (
	CategoryUsers               Category = "users"
	CategoryProjects            Category = "projects"
	CategoryInstitutionsContrib Category = "institutions_contrib"
	CategoryInstitutionsBenefit Category = "institutions_benefit"
)

// Categories lists every set category in report order.
var Categories = []Category{
	CategoryUsers,
	CategoryProjects,
	CategoryInstitutionsContrib,
	CategoryInstitutionsBenefit,
}

// Unmapped export categories.
const (
	UnmappedResources = "resources"
	UnmappedProjects  = "projects"
)

type RawBucket struct {
	Key      string
	DocCount int64
	LastSeen time.Time
}

// WindowBuckets holds the categorical bucket lists for one window.
type WindowBuckets struct {
	Users       []RawBucket
	Projects    []RawBucket
	Resources   []RawBucket
	ResourceIDs []RawBucket
}

// Sums holds the scalar aggregates for one window. Missing fields are zero.
type Sums struct {
	TotalJobs            float64 `json:"total_jobs"`
	CoreHours            float64 `json:"core_hours"`
	FilesTransferred     float64 `json:"files_transferred"`
	OSDFFilesTransferred float64 `json:"osdf_files_transferred"`
}

func (s *Sums) Add(o Sums) {
	s.TotalJobs += o.TotalJobs
	s.CoreHours += o.CoreHours
	s.FilesTransferred += o.FilesTransferred
	s.OSDFFilesTransferred += o.OSDFFilesTransferred
}

type ResolvedEntity struct {
	Canonical     string
	InstitutionID string
	Category      Category
}

// Resolved reports whether the entity may enter a set.
func (e ResolvedEntity) Resolved() bool { return !IsUnknown(e.Canonical) }

type UnmappedRecord struct {
	RawKey   string    `json:"raw_key"`
	LastSeen time.Time `json:"last_seen"`
}

// UndefinedRecord tracks keys the event source itself reported as unknown.
type UndefinedRecord struct {
	DocCount int64     `json:"doc_count"`
	LastSeen time.Time `json:"last_seen"`
}

// MonthlyDocument is one report row. The TOTAL row shares the type; its
// cardinalities come from run-wide sets, never from summing rows.
type MonthlyDocument struct {
	Date string `json:"date"`
	Sums

	Users                    int `json:"users"`
	Projects                 int `json:"projects"`
	InstitutionsContrib      int `json:"institutions_contrib"`
	InstitutionsBenefit      int `json:"institutions_benefit"`
	R1InstitutionsContrib    int `json:"r1_institutions_contrib"`
	NonR1InstitutionsContrib int `json:"non_r1_institutions_contrib"`
	R1InstitutionsBenefit    int `json:"r1_institutions_benefit"`
	NonR1InstitutionsBenefit int `json:"non_r1_institutions_benefit"`
	InstitutionsBoth         int `json:"institutions_both"`
	InstitutionsAny          int `json:"institutions_any"`

	CoreHoursPerJob  float64 `json:"core_hours_per_job"`
	FilesPerJob      float64 `json:"files_per_job"`
	OSDFFileFraction float64 `json:"osdf_file_fraction"`

	UnmappedProjectJobs   int64 `json:"unmapped_project_jobs"`
	UnmappedResourceJobs  int64 `json:"unmapped_resource_jobs"`
	UndefinedProjectJobs  int64 `json:"undefined_project_jobs"`
	UndefinedResourceJobs int64 `json:"undefined_resource_jobs"`
}

// Report is the full output of one run.
type Report struct {
	ID           string                      `json:"id"`
	GeneratedAt  time.Time                   `json:"generated_at"`
	Days         int                         `json:"days"`
	Months       []MonthlyDocument           `json:"months"`
	Total        MonthlyDocument             `json:"total"`
	Institutions map[Category][]string       `json:"institutions"`
	Unmapped     map[string][]UnmappedRecord `json:"unmapped"`
	Undefined    map[Source]UndefinedRecord  `json:"undefined"`
}

// Rows returns the total followed by the months, the order reports are rendered in.
func (r Report) Rows() []MonthlyDocument {
	rows := make([]MonthlyDocument, 0, len(r.Months)+1)
	rows = append(rows, r.Total)
	return append(rows, r.Months...)
}

type Institution struct {
	ID       string         `json:"id"`
	ShortID  string         `json:"id_short"`
	RORID    string         `json:"ror_id,omitempty"`
	Name     string         `json:"name"`
	Metadata map[string]any `json:"ipeds_metadata,omitempty"`
}

type Project struct {
	Name           string `json:"name"`
	ID             string `json:"id"`
	Institution    string `json:"institution"`
	InstitutionID  string `json:"institution_id"`
	FieldOfScience string `json:"field_of_science"`
}

type Resource struct {
	Name          string `json:"name"`
	Institution   string `json:"institution"`
	InstitutionID string `json:"institution_id"`
}

// Message is an outgoing report mail.
type Message struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	ReplyTo     string
	Subject     string
	HTML        string
	Attachments []Attachment
}

type Attachment struct {
	Name string
	Data []byte
}

// Job statuses mirror the report_jobs.status column.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

type ReportJob struct {
	ID       string
	Days     int
	Status   string
	ReportID string
	Error    string
}
