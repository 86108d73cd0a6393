package ingestion

import (
	"fmt"
	"strings"
	"time"

	"github.com/jinford/legal-rag/internal/core/knowledge"
)

const dateLayout = "02/01/2006"

// CaseEntity は案件（processo）の索引対象フィールド
type CaseEntity struct {
	ID          int64
	Number      string
	Title       string
	Description string
	Status      string
	Court       string
	Category    string
	ClientName  string
	OpenedAt    *time.Time
}

// FilingEntity は案件に紐づく提出書面
type FilingEntity struct {
	ID         int64
	CaseID     *int64
	CaseNumber string
	Title      string
	Content    string
	Status     string
	FiledAt    *time.Time
}

// HearingEntity は期日（audiência）
type HearingEntity struct {
	ID          int64
	CaseID      *int64
	CaseNumber  string
	HearingType string
	Location    string
	Notes       string
	Status      string
	Court       string
	ScheduledAt *time.Time
}

// ClientEntity は依頼者
type ClientEntity struct {
	ID       int64
	Name     string
	TaxID    string // CPF または CNPJ
	Email    string
	Notes    string
	Category string
}

// LedgerEntryEntity は会計仕訳（lançamento）
type LedgerEntryEntity struct {
	ID          int64
	CaseID      *int64
	Description string
	Category    string
	Status      string
	AmountCents int64
	EntryDate   *time.Time
}

// Document は案件をインデックス対象に変換する
func (e CaseEntity) Document() knowledge.Document {
	var b textBuilder
	b.line("Processo", e.Number)
	b.line("Título", e.Title)
	b.line("Cliente", e.ClientName)
	b.line("Tribunal", e.Court)
	b.line("Área", e.Category)
	b.line("Status", e.Status)
	b.date("Distribuído em", e.OpenedAt)
	b.body(e.Description)

	return knowledge.Document{
		Text: b.String(),
		Metadata: knowledge.DocumentMetadata{
			Kind:          knowledge.KindCase,
			SourceID:      e.ID,
			RelatedCaseID: &e.ID,
			CaseNumber:    optional(e.Number),
			Status:        optional(e.Status),
			Court:         optional(e.Court),
			Category:      optional(e.Category),
			ReferenceDate: e.OpenedAt,
		},
	}
}

func (e FilingEntity) Document() knowledge.Document {
	var b textBuilder
	b.line("Peça", e.Title)
	b.line("Processo", e.CaseNumber)
	b.line("Status", e.Status)
	b.date("Protocolada em", e.FiledAt)
	b.body(e.Content)

	return knowledge.Document{
		Text: b.String(),
		Metadata: knowledge.DocumentMetadata{
			Kind:          knowledge.KindFiling,
			SourceID:      e.ID,
			RelatedCaseID: e.CaseID,
			CaseNumber:    optional(e.CaseNumber),
			Status:        optional(e.Status),
			ReferenceDate: e.FiledAt,
		},
	}
}

func (e HearingEntity) Document() knowledge.Document {
	var b textBuilder
	b.line("Audiência", e.HearingType)
	b.line("Processo", e.CaseNumber)
	b.line("Tribunal", e.Court)
	b.line("Local", e.Location)
	b.line("Status", e.Status)
	b.date("Data", e.ScheduledAt)
	b.body(e.Notes)

	return knowledge.Document{
		Text: b.String(),
		Metadata: knowledge.DocumentMetadata{
			Kind:          knowledge.KindHearing,
			SourceID:      e.ID,
			RelatedCaseID: e.CaseID,
			CaseNumber:    optional(e.CaseNumber),
			Status:        optional(e.Status),
			Court:         optional(e.Court),
			ReferenceDate: e.ScheduledAt,
		},
	}
}

func (e ClientEntity) Document() knowledge.Document {
	var b textBuilder
	b.line("Cliente", e.Name)
	b.line("CPF/CNPJ", e.TaxID)
	b.line("E-mail", e.Email)
	b.line("Categoria", e.Category)
	b.body(e.Notes)

	return knowledge.Document{
		Text: b.String(),
		Metadata: knowledge.DocumentMetadata{
			Kind:     knowledge.KindClient,
			SourceID: e.ID,
			Category: optional(e.Category),
		},
	}
}

func (e LedgerEntryEntity) Document() knowledge.Document {
	var b textBuilder
	b.line("Lançamento", e.Description)
	b.line("Categoria", e.Category)
	b.line("Status", e.Status)
	b.line("Valor", formatCents(e.AmountCents))
	b.date("Data", e.EntryDate)

	return knowledge.Document{
		Text: b.String(),
		Metadata: knowledge.DocumentMetadata{
			Kind:          knowledge.KindLedgerEntry,
			SourceID:      e.ID,
			RelatedCaseID: e.CaseID,
			Status:        optional(e.Status),
			Category:      optional(e.Category),
			ReferenceDate: e.EntryDate,
		},
	}
}

type textBuilder struct {
	strings.Builder
}

func (b *textBuilder) line(label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, value)
}

func (b *textBuilder) date(label string, t *time.Time) {
	if t == nil || t.IsZero() {
		return
	}
	b.line(label, t.Format(dateLayout))
}

func (b *textBuilder) body(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(text)
	b.WriteString("\n")
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%sR$ %d,%02d", sign, cents/100, cents%100)
}
