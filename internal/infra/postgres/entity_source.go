package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/jinford/legal-rag/internal/core/ingestion"
	"github.com/jinford/legal-rag/internal/core/knowledge"
)

// EntitySource は業務テーブルを1種類ずつ列挙する。ReindexAll からのみ使われる。
// 前提とするテーブル: cases, clients, filings, hearings, ledger_entries（ledger_entries.entry_date は date、その他の日時は timestamptz）
type EntitySource struct {
	db    DBTX
	kind  knowledge.Kind
	query string
	scan  func(row pgx.CollectableRow) (knowledge.Document, error)
}

var _ knowledge.EntitySource = (*EntitySource)(nil)

func (s *EntitySource) Kind() knowledge.Kind {
	return s.kind
}

func (s *EntitySource) ListAll(ctx context.Context) ([]knowledge.Document, error) {
	rows, err := s.db.Query(ctx, s.query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s entities: %w", s.kind, err)
	}

	docs, err := pgx.CollectRows(rows, s.scan)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s entities: %w", s.kind, err)
	}
	return docs, nil
}

// EntitySources は全種別のエンティティソースを再インデックス順で返す
func EntitySources(db DBTX) []knowledge.EntitySource {
	return []knowledge.EntitySource{
		NewCaseSource(db),
		NewFilingSource(db),
		NewHearingSource(db),
		NewClientSource(db),
		NewLedgerEntrySource(db),
	}
}

// NewCaseSource は cases テーブルのソースを作成する
func NewCaseSource(db DBTX) *EntitySource {
	return &EntitySource{
		db:   db,
		kind: knowledge.KindCase,
		query: `
SELECT c.id, c.number, c.title, c.description, c.status, c.court, c.category, cl.name, c.opened_at
FROM cases c
LEFT JOIN clients cl ON cl.id = c.client_id
ORDER BY c.id`,
		scan: func(row pgx.CollectableRow) (knowledge.Document, error) {
			var (
				e                                           ingestion.CaseEntity
				title, description, status, court, category pgtype.Text
				clientName                                  pgtype.Text
				openedAt                                    pgtype.Timestamptz
			)
			if err := row.Scan(&e.ID, &e.Number, &title, &description, &status, &court, &category, &clientName, &openedAt); err != nil {
				return knowledge.Document{}, err
			}
			e.Title = title.String
			e.Description = description.String
			e.Status = status.String
			e.Court = court.String
			e.Category = category.String
			e.ClientName = clientName.String
			e.OpenedAt = PgtimestamptzToTimePtr(openedAt)
			return e.Document(), nil
		},
	}
}

// NewFilingSource は filings テーブルのソースを作成する
func NewFilingSource(db DBTX) *EntitySource {
	return &EntitySource{
		db:   db,
		kind: knowledge.KindFiling,
		query: `
SELECT f.id, f.case_id, c.number, f.title, f.content, f.status, f.filed_at
FROM filings f
LEFT JOIN cases c ON c.id = f.case_id
ORDER BY f.id`,
		scan: func(row pgx.CollectableRow) (knowledge.Document, error) {
			var (
				e                                  ingestion.FilingEntity
				caseID                             pgtype.Int8
				caseNumber, title, content, status pgtype.Text
				filedAt                            pgtype.Timestamptz
			)
			if err := row.Scan(&e.ID, &caseID, &caseNumber, &title, &content, &status, &filedAt); err != nil {
				return knowledge.Document{}, err
			}
			e.CaseID = Pgint8ToInt64Ptr(caseID)
			e.CaseNumber = caseNumber.String
			e.Title = title.String
			e.Content = content.String
			e.Status = status.String
			e.FiledAt = PgtimestamptzToTimePtr(filedAt)
			return e.Document(), nil
		},
	}
}

// NewHearingSource は hearings テーブルのソースを作成する
func NewHearingSource(db DBTX) *EntitySource {
	return &EntitySource{
		db:   db,
		kind: knowledge.KindHearing,
		query: `
SELECT h.id, h.case_id, c.number, c.court, h.hearing_type, h.location, h.notes, h.status, h.scheduled_at
FROM hearings h
LEFT JOIN cases c ON c.id = h.case_id
ORDER BY h.id`,
		scan: func(row pgx.CollectableRow) (knowledge.Document, error) {
			var (
				e                                                       ingestion.HearingEntity
				caseID                                                  pgtype.Int8
				caseNumber, court, hearingType, location, notes, status pgtype.Text
				scheduledAt                                             pgtype.Timestamptz
			)
			if err := row.Scan(&e.ID, &caseID, &caseNumber, &court, &hearingType, &location, &notes, &status, &scheduledAt); err != nil {
				return knowledge.Document{}, err
			}
			e.CaseID = Pgint8ToInt64Ptr(caseID)
			e.CaseNumber = caseNumber.String
			e.Court = court.String
			e.HearingType = hearingType.String
			e.Location = location.String
			e.Notes = notes.String
			e.Status = status.String
			e.ScheduledAt = PgtimestamptzToTimePtr(scheduledAt)
			return e.Document(), nil
		},
	}
}

// NewClientSource は clients テーブルのソースを作成する
func NewClientSource(db DBTX) *EntitySource {
	return &EntitySource{
		db:   db,
		kind: knowledge.KindClient,
		query: `
SELECT id, name, tax_id, email, notes, category
FROM clients
ORDER BY id`,
		scan: func(row pgx.CollectableRow) (knowledge.Document, error) {
			var (
				e                             ingestion.ClientEntity
				taxID, email, notes, category pgtype.Text
			)
			if err := row.Scan(&e.ID, &e.Name, &taxID, &email, &notes, &category); err != nil {
				return knowledge.Document{}, err
			}
			e.TaxID = taxID.String
			e.Email = email.String
			e.Notes = notes.String
			e.Category = category.String
			return e.Document(), nil
		},
	}
}

// NewLedgerEntrySource は ledger_entries テーブルのソースを作成する
func NewLedgerEntrySource(db DBTX) *EntitySource {
	return &EntitySource{
		db:   db,
		kind: knowledge.KindLedgerEntry,
		query: `
SELECT id, case_id, description, category, status, amount_cents, entry_date
FROM ledger_entries
ORDER BY id`,
		scan: func(row pgx.CollectableRow) (knowledge.Document, error) {
			var (
				e                             ingestion.LedgerEntryEntity
				caseID                        pgtype.Int8
				description, category, status pgtype.Text
				entryDate                     pgtype.Date
			)
			if err := row.Scan(&e.ID, &caseID, &description, &category, &status, &e.AmountCents, &entryDate); err != nil {
				return knowledge.Document{}, err
			}
			e.CaseID = Pgint8ToInt64Ptr(caseID)
			e.Description = description.String
			e.Category = category.String
			e.Status = status.String
			e.EntryDate = PgdateToTimePtr(entryDate)
			return e.Document(), nil
		},
	}
}
