package ingestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/legal-rag/internal/core/knowledge"
)

func TestCaseEntity_Document(t *testing.T) {
	opened := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	doc := CaseEntity{
		ID:          7,
		Number:      "0001234-56.2024.8.26.0100",
		Title:       "Ação de cobrança",
		Description: "  Cobrança de aluguéis atrasados.  ",
		Status:      "ativo",
		Court:       "TJSP",
		ClientName:  "Maria Souza",
		OpenedAt:    &opened,
	}.Document()

	assert.Equal(t, "Processo: 0001234-56.2024.8.26.0100\n"+
		"Título: Ação de cobrança\n"+
		"Cliente: Maria Souza\n"+
		"Tribunal: TJSP\n"+
		"Status: ativo\n"+
		"Distribuído em: 01/03/2024\n"+
		"\n"+
		"Cobrança de aluguéis atrasados.\n", doc.Text)

	assert.Equal(t, knowledge.KindCase, doc.Metadata.Kind)
	assert.Equal(t, int64(7), doc.Metadata.SourceID)
	require.NotNil(t, doc.Metadata.RelatedCaseID)
	assert.Equal(t, int64(7), *doc.Metadata.RelatedCaseID)
	assert.Nil(t, doc.Metadata.Category)
	require.NoError(t, doc.Metadata.Validate())
}

func TestEntityDocuments_Metadata(t *testing.T) {
	caseID := int64(7)

	filing := FilingEntity{ID: 3, CaseID: &caseID, CaseNumber: "123", Title: "Petição inicial", Content: "Requer citação"}.Document()
	assert.Equal(t, knowledge.KindFiling, filing.Metadata.Kind)
	assert.Equal(t, &caseID, filing.Metadata.RelatedCaseID)
	assert.Contains(t, filing.Text, "Peça: Petição inicial")

	hearing := HearingEntity{ID: 4, CaseID: &caseID, HearingType: "conciliação", Court: "TJSP"}.Document()
	assert.Equal(t, knowledge.KindHearing, hearing.Metadata.Kind)
	require.NotNil(t, hearing.Metadata.Court)
	assert.Equal(t, "TJSP", *hearing.Metadata.Court)

	client := ClientEntity{ID: 1, Name: "Maria Souza", TaxID: "123.456.789-00"}.Document()
	assert.Equal(t, knowledge.KindClient, client.Metadata.Kind)
	assert.Nil(t, client.Metadata.RelatedCaseID)
	assert.Contains(t, client.Text, "CPF/CNPJ: 123.456.789-00")

	ledger := LedgerEntryEntity{ID: 5, CaseID: &caseID, Description: "Custas", AmountCents: -15050}.Document()
	assert.Equal(t, knowledge.KindLedgerEntry, ledger.Metadata.Kind)
	assert.Contains(t, ledger.Text, "Valor: -R$ 150,50")
}

func TestEntityDocuments_EmptyFieldsProduceEmptyText(t *testing.T) {
	doc := ClientEntity{ID: 1}.Document()
	assert.Empty(t, doc.Text)
}
