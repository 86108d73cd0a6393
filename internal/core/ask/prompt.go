package ask

import (
	"strings"
)

// noContextAnswer はコンテキストが空のときに LLM を呼ばずに返す回答
const noContextAnswer = "Não encontrei informações relevantes nos documentos indexados para responder a esta pergunta."

// BuildAskPrompt はRAG質問応答用のプロンプトを構築する
func BuildAskPrompt(query, ragContext string) string {
	var sb strings.Builder

	sb.WriteString("Você é um assistente jurídico de um escritório de advocacia.\n")
	sb.WriteString("Responda à pergunta do usuário com base exclusivamente no contexto abaixo.\n\n")

	sb.WriteString("## Diretrizes\n")
	sb.WriteString("- Use apenas as informações presentes no contexto\n")
	sb.WriteString("- Cite a origem de cada afirmação no formato [TIPO ID:n]\n")
	sb.WriteString("- Se o contexto não for suficiente, diga isso claramente sem especular\n\n")

	sb.WriteString("## Contexto\n")
	sb.WriteString(ragContext)
	sb.WriteString("\n\n")

	sb.WriteString("## Pergunta\n")
	sb.WriteString(query)
	sb.WriteString("\n\n")

	sb.WriteString("## Resposta\n")

	return sb.String()
}
