// Package ingest imports leads from CSV and XLSX files: header mapping,
// per-import dedupe, and company/lead upserts tagged with an ingestion id.
package ingest

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-ranker/internal/model"
)

// Store is the persistence surface ingestion needs.
type Store interface {
	UpsertCompanies(ctx context.Context, companies []model.Company) (int64, error)
	UpsertLeads(ctx context.Context, leads []model.Lead) (int64, error)
}

// Result summarizes one import.
type Result struct {
	IngestionID string
	Companies   int
	Leads       int
	Skipped     int
}

// Ingester imports lead files.
type Ingester struct {
	store Store
}

// New creates an Ingester.
func New(store Store) *Ingester {
	return &Ingester{store: store}
}

// columnAliases maps recognized header names to canonical fields. Unrecognized
// columns land in the lead's Data map.
var columnAliases = map[string]string{
	"company":      "company",
	"company name": "company",
	"organization": "company",
	"account":      "company",
	"company id":   "company_id",
	"full name":    "full_name",
	"name":         "full_name",
	"contact":      "full_name",
	"contact name": "full_name",
	"title":        "title",
	"job title":    "title",
	"position":     "title",
	"role":         "title",
	"email":        "email",
	"email address": "email",
	"linkedin":     "linkedin",
	"linkedin url": "linkedin",
	"profile":      "linkedin",
}

// headerMap resolves each column index to a canonical field name or, for
// unrecognized columns, the normalized header text.
type headerMap struct {
	fields []string
}

func parseHeader(header []string) headerMap {
	fields := make([]string, len(header))
	for i, h := range header {
		norm := strings.ToLower(strings.TrimSpace(h))
		norm = strings.NewReplacer("_", " ", "-", " ").Replace(norm)
		norm = strings.Join(strings.Fields(norm), " ")
		if canonical, ok := columnAliases[norm]; ok {
			fields[i] = canonical
		} else {
			fields[i] = norm
		}
	}
	return headerMap{fields: fields}
}

// record is one parsed file row before identity assignment.
type record struct {
	companyName string
	companyID   string
	fullName    string
	title       string
	email       string
	linkedin    string
	extras      map[string]string
}

func (h headerMap) parse(row []string) record {
	rec := record{}
	for i, field := range h.fields {
		if i >= len(row) {
			break
		}
		val := strings.TrimSpace(row[i])
		if val == "" {
			continue
		}
		switch field {
		case "company":
			rec.companyName = val
		case "company_id":
			rec.companyID = val
		case "full_name":
			rec.fullName = val
		case "title":
			rec.title = val
		case "email":
			rec.email = val
		case "linkedin":
			rec.linkedin = val
		case "":
			// unnamed column
		default:
			if rec.extras == nil {
				rec.extras = map[string]string{}
			}
			rec.extras[field] = val
		}
	}
	return rec
}

// dedupeKey identifies a lead within one import: email when present, else
// name plus title, always scoped by company.
func (r record) dedupeKey(companyID string) string {
	if r.email != "" {
		return companyID + "\x00" + strings.ToLower(r.email)
	}
	return companyID + "\x00" + strings.ToLower(r.fullName) + "\x00" + strings.ToLower(r.title)
}

// companyIDFor derives a stable company id from the name, so repeated imports
// of the same company converge on one row.
func companyIDFor(name string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(name), " "))
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("company:"+norm)).String()
}

// collect consumes parsed rows and produces the upsert payloads.
func collect(header headerMap, rows [][]string, ingestionID string) ([]model.Company, []model.Lead, int) {
	var (
		companies []model.Company
		leads     []model.Lead
		skipped   int
	)
	seenCompany := map[string]bool{}
	seenLead := map[string]bool{}

	for _, row := range rows {
		rec := header.parse(row)
		if rec.companyName == "" && rec.companyID == "" {
			skipped++
			continue
		}
		if rec.fullName == "" && rec.email == "" {
			skipped++
			continue
		}

		companyID := rec.companyID
		if companyID == "" {
			companyID = companyIDFor(rec.companyName)
		}
		if !seenCompany[companyID] {
			seenCompany[companyID] = true
			companies = append(companies, model.Company{ID: companyID, Name: rec.companyName})
		}

		key := rec.dedupeKey(companyID)
		if seenLead[key] {
			skipped++
			continue
		}
		seenLead[key] = true

		leads = append(leads, model.Lead{
			ID:          uuid.New().String(),
			CompanyID:   companyID,
			FullName:    rec.fullName,
			Title:       rec.title,
			Email:       rec.email,
			LinkedInURL: rec.linkedin,
			Data:        rec.extras,
			IngestionID: ingestionID,
		})
	}
	return companies, leads, skipped
}

// importRows runs the shared tail of every import: collect, upsert, report.
func (ing *Ingester) importRows(ctx context.Context, header headerMap, rows [][]string) (*Result, error) {
	ingestionID := uuid.New().String()
	companies, leads, skipped := collect(header, rows, ingestionID)

	if len(leads) == 0 {
		return nil, eris.New("ingest: no importable leads found")
	}

	if _, err := ing.store.UpsertCompanies(ctx, companies); err != nil {
		return nil, eris.Wrap(err, "ingest: upsert companies")
	}
	if _, err := ing.store.UpsertLeads(ctx, leads); err != nil {
		return nil, eris.Wrap(err, "ingest: upsert leads")
	}

	zap.L().Info("import complete",
		zap.String("ingestion_id", ingestionID),
		zap.Int("companies", len(companies)),
		zap.Int("leads", len(leads)),
		zap.Int("skipped", skipped),
	)

	return &Result{
		IngestionID: ingestionID,
		Companies:   len(companies),
		Leads:       len(leads),
		Skipped:     skipped,
	}, nil
}
