package retrieval

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Pedro004-dot/AlicitSaas/internal/adapter/gemini"
	"github.com/Pedro004-dot/AlicitSaas/internal/ingestion"
	"github.com/Pedro004-dot/AlicitSaas/internal/vector"
)

const SystemPrompt = `Você é um especialista em análise de licitações públicas brasileiras.
Sua função é responder perguntas sobre documentos de licitação de forma precisa e detalhada.

INSTRUÇÕES:
1. Use APENAS as informações fornecidas no contexto
2. Seja específico e cite números de páginas quando disponível
3. Se a informação não estiver no contexto, diga claramente
4. Formate valores monetários em reais (R$)
5. Mencione artigos, cláusulas e seções específicas quando relevantes
6. Mantenha tom profissional e técnico`

// USD per 1K tokens.
const (
	InputPricePer1K  = 0.00015
	OutputPricePer1K = 0.0006
	tokensPerWord    = 1.3
)

const notAvailable = "N/A"

var brl = message.NewPrinter(language.BrazilianPortuguese)

// FormatBRL renders a value as Brazilian currency, e.g. R$ 250.000,00.
func FormatBRL(v float64) string {
	return "R$ " + brl.Sprintf("%.2f", v)
}

// BuildContext renders the record header followed by each chunk labeled
// with its page number.
func BuildContext(chunks []vector.SearchResult, info *ingestion.RecordInfo) string {
	var sb strings.Builder
	if info != nil {
		valor := notAvailable
		if info.ValorTotalEstimado != nil {
			valor = FormatBRL(*info.ValorTotalEstimado)
		}
		sb.WriteString("INFORMAÇÕES DA LICITAÇÃO:\n")
		fmt.Fprintf(&sb, "- Objeto: %s\n", orNA(info.Objeto))
		fmt.Fprintf(&sb, "- Modalidade: %s\n", orNA(info.Modalidade))
		fmt.Fprintf(&sb, "- Valor Total Estimado: %s\n", valor)
		fmt.Fprintf(&sb, "- Órgão: %s\n", orNA(info.Orgao))
		fmt.Fprintf(&sb, "- UF: %s\n", orNA(info.UF))
	}
	for i, c := range chunks {
		page := notAvailable
		if c.PageNumber != nil {
			page = fmt.Sprintf("%d", *c.PageNumber)
		}
		fmt.Fprintf(&sb, "\nTRECHO %d (Página %s):\n%s\n", i+1, page, c.Text)
	}
	return sb.String()
}

func UserPrompt(query, context string) string {
	return fmt.Sprintf(`CONTEXTO DOS DOCUMENTOS:
%s

PERGUNTA: %s

Responda de forma completa e estruturada, citando as fontes específicas do documento.`, context, query)
}

// EstimateCost prices a completion. Reported token usage wins; without it
// tokens are approximated from word counts.
func EstimateCost(prompt string, c gemini.Completion) float64 {
	in := float64(c.PromptTokens)
	if in == 0 {
		in = float64(len(strings.Fields(prompt))) * tokensPerWord
	}
	out := float64(c.CompletionTokens)
	if out == 0 {
		out = float64(len(strings.Fields(c.Text))) * tokensPerWord
	}
	return in*InputPricePer1K/1000 + out*OutputPricePer1K/1000
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return notAvailable
	}
	return s
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
