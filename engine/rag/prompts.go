package rag

import "strings"

// ContextSeparator joins the text of the evidence chunks in the reference context.
const ContextSeparator = "\n\n---\n\n"

// SystemInstruction accompanies the final risk prompt.
const SystemInstruction = "Provide risk assessment with level, summary, and evidence."

const hypothesisTemplate = `You are an expert in supply chain risk analysis.
Generate a hypothetical but realistic analytical snippet that represents what an answer to the following risk query might look like.
The snippet should be a short paragraph addressing the query.

Query: {query}

Hypothetical Analysis:`

const riskTemplate = `You are a domain expert specialized in supply chain risk analysis.

### Response Instructions:
- Assess the risk level as Low, Moderate, or High.
- Provide a summary justification.
- Include specific extracted evidence.

### Reference Context:
{context}

### User Query:
{query}`

const hypothesisSection = "\n\n### Hypothetical Analysis (unverified):\n{hypothesis}"

// HypothesisPrompt asks for a short hypothetical answer to query.
func HypothesisPrompt(query string) string {
	return strings.NewReplacer("{query}", query).Replace(hypothesisTemplate)
}

// RiskPrompt fills the risk template. A non-empty hypothesis is appended to the
// reference context, marked as unverified.
func RiskPrompt(reference, query, hypothesis string) string {
	if hypothesis != "" {
		reference += strings.NewReplacer("{hypothesis}", hypothesis).Replace(hypothesisSection)
	}
	return strings.NewReplacer("{context}", reference, "{query}", query).Replace(riskTemplate)
}

// ReferenceContext concatenates chunk texts in the given order.
func ReferenceContext(texts []string) string {
	return strings.Join(texts, ContextSeparator)
}
